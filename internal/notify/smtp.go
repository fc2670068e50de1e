package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/keyward/apiserver/config"
	"github.com/keyward/apiserver/internal/services"
)

// SMTPNotifier sends reset emails through an SMTP relay. It upgrades to TLS
// when the server offers STARTTLS and authenticates only when credentials
// are configured.
type SMTPNotifier struct {
	cfg       config.SMTPConfig
	renderer  *Renderer
	tlsConfig *tls.Config
}

func NewSMTPNotifier(cfg config.SMTPConfig, renderer *Renderer) (*SMTPNotifier, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("SMTP_HOST is required")
	}
	if renderer == nil {
		r, err := NewRenderer(cfg.From, "")
		if err != nil {
			return nil, err
		}
		renderer = r
	}
	return &SMTPNotifier{
		cfg:       cfg,
		renderer:  renderer,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
	}, nil
}

func (n *SMTPNotifier) NotifyPasswordReset(ctx context.Context, notice services.ResetNotice) error {
	msg, err := n.renderer.Render(notice)
	if err != nil {
		return err
	}
	return n.Send(ctx, msg)
}

// Send delivers one message. The whole exchange is bounded by ctx.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	wrap := func(step string, err error) error {
		return oops.Code("NOTIFY_SMTP_FAILED").With("addr", addr).With("step", step).Wrap(err)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return wrap("dial", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(time.Minute))
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return wrap("greeting", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(n.tlsConfig); err != nil {
			return wrap("starttls", err)
		}
	}
	if n.cfg.User != "" && n.cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)); err != nil {
			return wrap("auth", err)
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return wrap("mail", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return wrap("rcpt", err)
	}
	w, err := client.Data()
	if err != nil {
		return wrap("data", err)
	}
	if _, err := w.Write(formatMessage(msg)); err != nil {
		_ = w.Close()
		return wrap("data", err)
	}
	if err := w.Close(); err != nil {
		return wrap("data", err)
	}
	if err := client.Quit(); err != nil {
		return wrap("quit", err)
	}
	return nil
}

// formatMessage renders msg in RFC 5322 form with CRLF line endings.
func formatMessage(msg Message) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", headerValue(msg.From))
	fmt.Fprintf(&buf, "To: %s\r\n", headerValue(msg.To))
	fmt.Fprintf(&buf, "Subject: %s\r\n", headerValue(msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")

	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return buf.Bytes()
}

// headerValue strips line breaks so a value cannot start a new header.
func headerValue(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}
