package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "voice",
		Short:         "Hands-free voice front end for an n8n automation backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")

	configPath := func() string { return configFile }

	root.AddCommand(
		newListenCmd(configPath),
		newWebhookCmd(configPath),
		newSayCmd(configPath),
		newHealthCmd(configPath),
	)

	return root
}

func newListenCmd(configPath func() string) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen continuously until interrupted",
		Long:  `Listen continuously until interrupted.

While listening, lines typed on stdin are sent as text messages.
"/replay" plays the last reply again and "/quit" stops listening.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAppWithInput(configPath(), cmd.OutOrStdout(), cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer a.close()

			if mode != "" {
				a.cfg.Mode = mode
			}

			return a.listen(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "listening mode: vad or continuous")

	return cmd
}

func newWebhookCmd(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Show or change the automation webhook URL",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the configured webhook URL",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(configPath(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
				defer a.close()

				url := a.settings.Get()
				if url == "" {
					return fmt.Errorf("no webhook URL configured, set one with: voice webhook set <url>")
				}

				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <url>",
			Short: "Store the webhook URL",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(configPath(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
				defer a.close()

				if err := a.settings.Set(args[0]); err != nil {
					return err
				}

				a.logger.Infof("webhook URL saved to %s", a.cfg.SettingsPath)
				return nil
			},
		},
	)

	return cmd
}

func newSayCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "say <text>",
		Short: "Send a typed message and play the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()

			return a.say(cmd.Context(), args)
		},
	}
}

func newHealthCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the voice backend is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()

			resp, err := a.client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("backend %s unhealthy: %w", a.client.BaseURL(), err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", a.client.BaseURL(), resp.Status)
			return nil
		},
	}
}
