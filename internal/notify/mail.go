package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/leadstorm/internal/config"
	"github.com/sells-group/leadstorm/internal/model"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

var summaryTmpl = template.Must(template.New("summary").Parse(`Run {{.ID}} finished with status {{.Status}}.

City:        {{.City}}
Keyword:     {{.Keyword}}
Leads added: {{.LeadsAdded}}
Duplicates:  {{.Duplicates}}
No email:    {{.NoEmail}}
Started:     {{.StartedAt.Format "2006-01-02 15:04:05 MST"}}
{{- if .CompletedAt}}
Finished:    {{.CompletedAt.Format "2006-01-02 15:04:05 MST"}}
{{- end}}
{{- if .ErrorMessage}}

Error: {{.ErrorMessage}}
{{- end}}
`))

// Mailer emails a plain-text summary of each finished run.
type Mailer struct {
	d    dialer
	from string
	to   []string
}

// NewMailer creates a Mailer that sends through the configured SMTP host.
func NewMailer(cfg config.MailConfig) *Mailer {
	return &Mailer{
		d:    gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from: cfg.From,
		to:   cfg.To,
	}
}

// RunFinished implements Notifier. SMTP sends are not cancellable, so ctx
// is only checked before dialing.
func (m *Mailer) RunFinished(ctx context.Context, run model.Run) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "notify: mail")
	}

	var body bytes.Buffer
	if err := summaryTmpl.Execute(&body, run); err != nil {
		return eris.Wrap(err, "notify: render summary")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)
	msg.SetHeader("Subject", Subject(run))
	msg.SetBody("text/plain", body.String())

	if err := m.d.DialAndSend(msg); err != nil {
		return eris.Wrapf(err, "notify: send summary for run %s", run.ID)
	}
	return nil
}

// Subject is the summary mail subject line.
func Subject(run model.Run) string {
	return fmt.Sprintf("[leadstorm] %s in %s %s: %d new leads",
		run.Keyword, run.City, run.Status, run.LeadsAdded)
}
