/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyward/apiserver/internal/notify"
	"github.com/keyward/apiserver/internal/storage"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage the password reset email template",
}

var templatePushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Validate a template and upload it to TEMPLATE_STORAGE under TEMPLATE_KEY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if _, err := notify.NewRenderer(cfg.SMTP.From, string(data)); err != nil {
			return fmt.Errorf("template %s: %w", args[0], err)
		}

		ctx := cmd.Context()
		store, err := storage.Open(ctx, cfg)
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		if err := store.Put(ctx, cfg.Templates.Key, bytes.NewReader(data), int64(len(data)), "text/plain; charset=utf-8"); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s to %s/%s\n", args[0], store.Bucket(), cfg.Templates.Key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(templateCmd)
	templateCmd.AddCommand(templatePushCmd)
}
