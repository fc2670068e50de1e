package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/samber/oops"

	"github.com/keyward/apiserver/internal/logging"
	"github.com/keyward/apiserver/internal/mq"
	"github.com/keyward/apiserver/internal/services"
)

const contentTypeJSON = "application/json"

// QueueNotifier publishes reset notices to a queue for the mailer worker.
type QueueNotifier struct {
	backend mq.Backend
	channel string
}

func NewQueueNotifier(backend mq.Backend, channel string) *QueueNotifier {
	return &QueueNotifier{backend: backend, channel: channel}
}

func (n *QueueNotifier) NotifyPasswordReset(ctx context.Context, notice services.ResetNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return oops.Code("NOTIFY_ENCODE_FAILED").Wrap(err)
	}
	if _, err := n.backend.Publish(ctx, n.channel, data, map[string]string{
		"content_type": contentTypeJSON,
		"kind":         "password_reset",
	}); err != nil {
		return oops.Code("NOTIFY_PUBLISH_FAILED").With("channel", n.channel).Wrap(err)
	}
	return nil
}

// MailWorker drains queued reset notices and hands each one to a notifier,
// normally an SMTPNotifier.
type MailWorker struct {
	backend mq.Backend
	channel string
	sender  services.ResetNotifier
	logger  *slog.Logger
}

func NewMailWorker(backend mq.Backend, channel string, sender services.ResetNotifier, logger *slog.Logger) *MailWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailWorker{backend: backend, channel: channel, sender: sender, logger: logger}
}

// Run consumes until ctx is done.
func (w *MailWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "mail worker started", "channel", w.channel)
	return w.backend.Subscribe(ctx, w.channel, w.handle)
}

// handle returns an error only for failures worth redelivering. Malformed
// payloads are dropped.
func (w *MailWorker) handle(ctx context.Context, msg mq.Message) error {
	var notice services.ResetNotice
	if err := json.Unmarshal(msg.Data, &notice); err != nil || notice.Email == "" || notice.Token == "" {
		w.logger.WarnContext(ctx, "dropping malformed reset notice", "message_id", msg.ID)
		return nil
	}
	if err := w.sender.NotifyPasswordReset(ctx, notice); err != nil {
		logging.Error(ctx, w.logger, "reset mail delivery failed",
			oops.With("message_id", msg.ID).With("account_id", notice.AccountID).Wrap(err))
		return err
	}
	w.logger.InfoContext(ctx, "reset mail delivered", "message_id", msg.ID, "account_id", notice.AccountID)
	return nil
}
