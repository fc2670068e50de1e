package server

import (
	"context"
	"io"
	"log/slog"

	"github.com/samber/oops"

	"github.com/keyward/apiserver/config"
	"github.com/keyward/apiserver/internal/mq"
	"github.com/keyward/apiserver/internal/notify"
	"github.com/keyward/apiserver/internal/services"
	"github.com/keyward/apiserver/internal/storage"
)

// Notifier backends.
const (
	NotifierLog  = "log"
	NotifierSMTP = "smtp"
)

// NewNotifier builds the reset notifier selected by cfg.Notifier.Backend.
// The returned closer, when non-nil, owns a queue connection.
func NewNotifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (services.ResetNotifier, io.Closer, error) {
	switch cfg.Notifier.Backend {
	case "", NotifierLog:
		return notify.NewLogNotifier(logger), nil, nil
	case NotifierSMTP:
		renderer, err := NewRenderer(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		n, err := notify.NewSMTPNotifier(cfg.SMTP, renderer)
		if err != nil {
			return nil, nil, err
		}
		return n, nil, nil
	case mq.BackendRabbitMQ, mq.BackendPubSub:
		backend, err := mq.Open(ctx, cfg.Notifier.Backend, cfg)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewQueueNotifier(backend, cfg.Notifier.Channel), backend, nil
	default:
		return nil, nil, oops.Code("CONFIG_INVALID").
			With("notifier", cfg.Notifier.Backend).
			Errorf("unknown notifier %q", cfg.Notifier.Backend)
	}
}

// NewRenderer loads the reset email template from object storage when
// TEMPLATE_STORAGE is set and uses the built-in one otherwise.
func NewRenderer(ctx context.Context, cfg config.Config) (*notify.Renderer, error) {
	if cfg.Templates.Storage == "" {
		return notify.NewRenderer(cfg.SMTP.From, "")
	}
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return notify.LoadRenderer(ctx, cfg.SMTP.From, store, cfg.Templates.Key)
}
