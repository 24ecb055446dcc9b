package contact

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var emailRe = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)

// placeholderMarkers are domain fragments of template, test and tracking
// addresses that are never a business contact.
var placeholderMarkers = []string{
	"example.",
	"test.",
	"placeholder",
	"yoursite",
	"yourdomain",
	"sentry.io",
	"w3.org",
}

// IsPlaceholder reports whether the domain of email matches a placeholder
// marker.
func IsPlaceholder(email string) bool {
	at := strings.IndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return true
	}
	domain := strings.ToLower(email[at+1:])
	for _, m := range placeholderMarkers {
		if strings.Contains(domain, m) {
			return true
		}
	}
	return false
}

// FirstEmail returns the first email-shaped match in text that is not a
// placeholder.
func FirstEmail(text string) (string, bool) {
	for _, m := range emailRe.FindAllString(text, -1) {
		if !IsPlaceholder(m) {
			return m, true
		}
	}
	return "", false
}

// FindEmail scans an HTML page for a contact address. Plain matches in the
// raw markup win; encoded mailto links are the fallback.
func FindEmail(page []byte) (string, bool) {
	if email, ok := FirstEmail(string(page)); ok {
		return email, true
	}
	return mailtoEmail(page)
}

// mailtoEmail decodes mailto hrefs, which may hide the address behind
// percent or entity encoding.
func mailtoEmail(page []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", false
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.HasPrefix(strings.ToLower(href), "mailto:") {
			return true
		}
		addr := href[len("mailto:"):]
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if decoded, err := url.PathUnescape(addr); err == nil {
			addr = decoded
		}
		if email, ok := FirstEmail(addr); ok {
			found = email
			return false
		}
		return true
	})
	return found, found != ""
}
