/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyward/apiserver/internal/mq"
	"github.com/keyward/apiserver/internal/notify"
	"github.com/keyward/apiserver/internal/server"
)

// mailerCmd drains the reset notice queue and sends the emails over SMTP.
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Deliver queued password reset emails",
	Long: `Consumes password reset notices published by the API server when
NOTIFIER is rabbitmq or pubsub and delivers them over SMTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Notifier.Backend != mq.BackendRabbitMQ && cfg.Notifier.Backend != mq.BackendPubSub {
			return oops.Code("CONFIG_INVALID").
				With("notifier", cfg.Notifier.Backend).
				Errorf("mailer needs NOTIFIER=rabbitmq or NOTIFIER=pubsub")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		renderer, err := server.NewRenderer(ctx, cfg)
		if err != nil {
			return err
		}
		sender, err := notify.NewSMTPNotifier(cfg.SMTP, renderer)
		if err != nil {
			return err
		}

		backend, err := mq.Open(ctx, cfg.Notifier.Backend, cfg)
		if err != nil {
			return err
		}
		defer backend.Close()

		worker := notify.NewMailWorker(backend, cfg.Notifier.Channel, sender, logger)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
			return err
		}
		logger.Info("mailer stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
