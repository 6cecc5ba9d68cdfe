// Package notify mails a short summary of a run when it produced something new.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"chartwatch/internal/components/assert"
	"chartwatch/internal/components/telemetry"
	"chartwatch/internal/result"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("chartwatch/notify")

const report_send = "send"

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	To           []string `json:"to"`
}

func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && c.EmailAddress != "" && len(c.To) > 0
}

// send is email.Email.Send, swapped out in tests.
type send func(mail *email.Email, addr string, auth smtp.Auth) error

type Notifier struct {
	cfg  SmtpConfig
	tel  telemetry.API
	send send
}

func New(cfg SmtpConfig, tel telemetry.API) Notifier {
	assert.NotNil(tel)
	return Notifier{
		cfg: cfg,
		tel: telemetry.NewScopedAPI("notify", tel),
		send: func(mail *email.Email, addr string, auth smtp.Auth) error {
			return mail.Send(addr, auth)
		},
	}
}

// Summary describes what is new in run, ok is false when nothing is.
func Summary(run *result.Run) (subject, body string, ok bool) {
	var lines []string
	for _, key := range run.Keys() {
		entry, _ := run.Entry(key)
		switch e := entry.(type) {
		case result.Research:
			if !e.IsNew {
				continue
			}
			line := fmt.Sprintf("%s: updated %s", key, result.Deref(e.DateOnPage))
			if e.FilePath != nil {
				line += ", saved to " + *e.FilePath
			}
			lines = append(lines, line)
		case result.Scan:
			if e.StockCount == 0 {
				continue
			}
			line := fmt.Sprintf("%s: %d matches in %s", key, e.StockCount, result.Deref(e.ChartlistName))
			if len(e.Symbols) > 0 {
				line += " (" + strings.Join(e.Symbols, ", ") + ")"
			}
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "", "", false
	}

	subject = fmt.Sprintf("chartwatch %s: %d update(s)", run.Date, len(lines))
	body = strings.Join(lines, "\n") + "\n\nOutput: " + run.DataDir + "\n"
	if !run.Success && run.Error != "" {
		body += "Run error: " + run.Error + "\n"
	}
	return subject, body, true
}

// Notify mails the summary of run. It does nothing when mail is not configured
// or nothing is new.
func (n Notifier) Notify(ctx context.Context, run *result.Run) error {
	if !n.cfg.Enabled() {
		return nil
	}
	subject, body, ok := Summary(run)
	if !ok {
		n.tel.ReportDebug(report_send, "nothing new")
		return nil
	}

	ctx, span := tracer.Start(ctx, "Notify")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("chartwatch <%s>", n.cfg.EmailAddress)
	mail.To = n.cfg.To
	mail.Subject = subject
	mail.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", n.cfg.Server, n.cfg.Port)
	err := n.send(mail, addr, smtp.PlainAuth("", n.cfg.EmailAddress, n.cfg.Password, n.cfg.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = n.send(mail, addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		n.tel.ReportWarning(report_send, err)
		return err
	}
	n.tel.ReportDebug(report_send, subject, n.cfg.To)
	return nil
}
