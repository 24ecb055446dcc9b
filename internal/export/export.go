// Package export renders stored leads as downloadable files.
package export

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadstorm/internal/model"
)

// Header is the column order shared by every format.
var Header = []string{"Date", "Name", "Email", "Phone", "Website", "Address", "City", "Keyword"}

const dateLayout = "2006-01-02"

// Format names an export file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat resolves a format name. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("export: unknown format %q", s)
	}
}

// Filename is the download name for f.
func (f Format) Filename() string {
	return "leadstorm_leads." + string(f)
}

// ContentType is the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Write renders leads to w in format f.
func Write(w io.Writer, f Format, leads []model.Lead) error {
	if f == FormatXLSX {
		return WriteXLSX(w, leads)
	}
	return WriteCSV(w, leads)
}

// Record is a lead's row in Header order. The date is the creation day in
// the lead's stored time zone.
func Record(l model.Lead) []string {
	return []string{
		l.CreatedAt.Format(dateLayout),
		l.Name,
		l.Email,
		l.Phone,
		l.Website,
		l.Address,
		l.City,
		l.Keyword,
	}
}
