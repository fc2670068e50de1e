// Package notify delivers password reset instructions by email, directly
// over SMTP or through a message queue drained by the mailer worker.
package notify

import (
	"bytes"
	"context"
	_ "embed"
	"io"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/samber/oops"

	"github.com/keyward/apiserver/internal/services"
	"github.com/keyward/apiserver/internal/storage"
)

// DefaultSubject is the subject line of reset emails.
const DefaultSubject = "Password reset"

// maxTemplateBytes bounds templates loaded from object storage.
const maxTemplateBytes = 64 << 10

//go:embed templates/password_reset.txt
var defaultTemplate string

// Message is a rendered plain-text email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

type templateData struct {
	Username  string
	Email     string
	ResetLink string
	ExpiresAt time.Time
}

// Renderer turns a ResetNotice into a Message.
type Renderer struct {
	tmpl    *template.Template
	from    string
	subject string
}

// NewRenderer parses text as the body template. An empty text selects the
// built-in template.
func NewRenderer(from, text string) (*Renderer, error) {
	if strings.TrimSpace(text) == "" {
		text = defaultTemplate
	}
	tmpl, err := template.New("password_reset").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, oops.Code("NOTIFY_TEMPLATE_INVALID").Wrap(err)
	}
	// Templates loaded at startup must fail there, not on the first reset.
	if err := tmpl.Execute(io.Discard, templateData{ExpiresAt: time.Now()}); err != nil {
		return nil, oops.Code("NOTIFY_TEMPLATE_INVALID").Wrap(err)
	}
	return &Renderer{tmpl: tmpl, from: from, subject: DefaultSubject}, nil
}

// LoadRenderer reads the body template from object storage.
func LoadRenderer(ctx context.Context, from string, store storage.ObjectStorage, key string) (*Renderer, error) {
	data, err := storage.ReadObject(ctx, store, key, maxTemplateBytes)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, oops.Code("NOTIFY_TEMPLATE_INVALID").With("key", key).Errorf("template %s is empty", key)
	}
	return NewRenderer(from, string(data))
}

// Render builds the email for notice.
func (r *Renderer) Render(notice services.ResetNotice) (Message, error) {
	link, err := ResetLink(notice.ResetURL, notice.Token)
	if err != nil {
		return Message{}, err
	}

	var body bytes.Buffer
	if err := r.tmpl.Execute(&body, templateData{
		Username:  notice.Username,
		Email:     notice.Email,
		ResetLink: link,
		ExpiresAt: notice.ExpiresAt,
	}); err != nil {
		return Message{}, oops.Code("NOTIFY_RENDER_FAILED").Wrap(err)
	}

	return Message{
		From:    r.from,
		To:      notice.Email,
		Subject: r.subject,
		Body:    body.String(),
	}, nil
}

// ResetLink appends the token to the reset landing URL as ?token=.
func ResetLink(resetURL, token string) (string, error) {
	u, err := url.Parse(resetURL)
	if err != nil {
		return "", oops.Code("NOTIFY_RESET_URL_INVALID").With("reset_url", resetURL).Wrap(err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
