package service

import (
	"context"
	"fmt"
	"html"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"gradeflow/internal/config"
	"gradeflow/internal/model"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// EmailNotifier sends urgent notifications through SendGrid
type EmailNotifier struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
}

var _ Mailer = (*EmailNotifier)(nil)

// NewEmailNotifier returns nil when no API key is configured
func NewEmailNotifier(cfg config.MailConfig) *EmailNotifier {
	if cfg.SendgridAPIKey == "" {
		return nil
	}
	return &EmailNotifier{
		key:        cfg.SendgridAPIKey,
		from:       sgmail.NewEmail(cfg.FromName, cfg.FromAddress),
		subjPrefix: "[" + cfg.FromName + "] ",
	}
}

func (e *EmailNotifier) prepare(to *model.User, n *model.Notification) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = e.subjPrefix + n.Title
	p.AddTos(sgmail.NewEmail(to.Name, to.Email))

	m := sgmail.NewV3Mail()
	m.SetFrom(e.from)
	m.AddPersonalizations(p)
	m.AddContent(
		sgmail.NewContent("text/plain", n.Message),
		sgmail.NewContent("text/html", fmt.Sprintf("<p>%s</p><p><small>Priority: %s</small></p>",
			html.EscapeString(n.Message), n.Priority)),
	)
	return m
}

// Send delivers one notification. The SendGrid client has no context support; the
// request is bounded by its default HTTP client timeout instead.
func (e *EmailNotifier) Send(_ context.Context, to *model.User, n *model.Notification) error {
	req := sendgrid.GetRequest(e.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(e.prepare(to, n))

	res, err := sendgrid.API(req)
	if err != nil {
		return err
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, truncate(res.Body, 200))
	}
	return nil
}
