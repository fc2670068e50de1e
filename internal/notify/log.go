package notify

import (
	"context"
	"log/slog"

	"github.com/keyward/apiserver/internal/services"
)

// LogNotifier records that a reset notice was produced without delivering
// it. The token is never logged.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyPasswordReset(ctx context.Context, notice services.ResetNotice) error {
	n.logger.InfoContext(ctx, "password reset requested",
		"account_id", notice.AccountID,
		"email", notice.Email,
		"expires_at", notice.ExpiresAt,
	)
	return nil
}
