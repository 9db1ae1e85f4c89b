package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/devtool"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/doctor"
)

const pingTimeout = 10 * time.Second

func (a *App) devCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Developer and diagnostic tools",
	}
	cmd.AddCommand(a.devDoctorCmd())
	cmd.AddCommand(a.devPingCmd())
	cmd.AddCommand(a.devEnvelopeCmd())
	cmd.AddCommand(a.devWebhookCmd())
	return cmd
}

func (a *App) devDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run environment diagnostics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d := doctor.New(a.Version, a.Config, a.Auth, a.Logger)
			report := d.Run(cmd.Context())

			a.print(report, formatReport(report))
			if report.Failed > 0 {
				return (&Error{
					Code:    "checks_failed",
					Message: fmt.Sprintf("%d of %d checks failed", report.Failed, len(report.Checks)),
				}).WithExit(ExitGeneral)
			}
			return nil
		},
	}
}

func formatReport(r doctor.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "myndhyve %s\n", r.Version)
	for _, c := range r.Checks {
		mark := "ok"
		if !c.OK {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "  [%-4s] %-16s %s\n", mark, c.Name, c.Message)
		if c.Fix != "" {
			fmt.Fprintf(&b, "         fix: %s\n", c.Fix)
		}
	}
	fmt.Fprintf(&b, "%d passed, %d failed", r.Passed, r.Failed)
	return b.String()
}

func (a *App) devPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check cloud reachability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
			defer cancel()

			start := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.Config.CloudURL, nil)
			if err != nil {
				return NewError("ping_failed", err.Error(), "")
			}
			resp, err := (&http.Client{}).Do(req)
			if err != nil {
				return NewError("unreachable",
					fmt.Sprintf("%s unreachable: %v", a.Config.CloudURL, err),
					"check your network connection")
			}
			resp.Body.Close()

			elapsed := time.Since(start)
			a.print(map[string]interface{}{
				"url":       a.Config.CloudURL,
				"status":    resp.StatusCode,
				"elapsedMs": elapsed.Milliseconds(),
			}, fmt.Sprintf("%s reachable (status %d, %s)", a.Config.CloudURL, resp.StatusCode, elapsed.Round(time.Millisecond)))
			return nil
		},
	}
}

func (a *App) devEnvelopeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envelope",
		Short: "Create and validate test envelopes",
	}
	cmd.AddCommand(a.devEnvelopeCreateCmd())
	cmd.AddCommand(a.devEnvelopeValidateCmd())
	return cmd
}

func (a *App) devEnvelopeCreateCmd() *cobra.Command {
	var params devtool.EnvelopeParams
	var channelFlag string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Print a synthetic ingress envelope",
		RunE: func(_ *cobra.Command, _ []string) error {
			ch, err := channel.Parse(channelFlag)
			if err != nil {
				return NewError("unknown_channel", err.Error(), "").WithExit(ExitUsage)
			}
			params.Channel = ch

			a.printResult(devtool.NewTestEnvelope(params))
			return nil
		},
	}
	cmd.Flags().StringVar(&channelFlag, "channel", "", "channel tag")
	cmd.Flags().StringVar(&params.Text, "text", "", "message text")
	cmd.Flags().StringVar(&params.PeerID, "peer", "", "peer identifier")
	cmd.Flags().StringVar(&params.ConversationID, "conversation", "", "conversation identifier")
	cmd.Flags().BoolVar(&params.IsGroup, "group", false, "mark as a group message")
	cmd.Flags().StringVar(&params.GroupName, "group-name", "", "group display name")
	cmd.MarkFlagRequired("channel")
	return cmd
}

func (a *App) devEnvelopeValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate an envelope JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if os.IsNotExist(err) {
				return NewError("file_not_found", fmt.Sprintf("%s does not exist", args[0]), "").
					WithExit(ExitNotFound)
			}
			if err != nil {
				return NewError("file_unreadable", err.Error(), "")
			}

			res := devtool.ValidateEnvelope(raw)
			text := fmt.Sprintf("valid %s envelope", res.EnvelopeType)
			if !res.Valid {
				text = fmt.Sprintf("invalid %s envelope:\n  %s",
					res.EnvelopeType, strings.Join(res.Errors, "\n  "))
			}
			a.print(res, text)

			if !res.Valid {
				return (&Error{Code: "invalid_envelope", Message: "envelope validation failed"}).
					WithExit(ExitGeneral)
			}
			return nil
		},
	}
}

func (a *App) devWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Synthesize platform webhook payloads",
	}
	cmd.AddCommand(a.devWebhookTestCmd())
	return cmd
}

func (a *App) devWebhookTestCmd() *cobra.Command {
	var eventType, text, peerID string

	cmd := &cobra.Command{
		Use:   "test <channel>",
		Short: "Print a synthetic platform webhook event",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			payload, err := devtool.WebhookEvent(devtool.WebhookParams{
				Channel:   channel.Channel(args[0]),
				EventType: eventType,
				Text:      text,
				PeerID:    peerID,
			})
			if err != nil {
				return NewError("bad_webhook_params", err.Error(), "").WithExit(ExitUsage)
			}

			a.printResult(payload)
			return nil
		},
	}
	cmd.Flags().StringVar(&eventType, "event", "message", "event type (message or status)")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().StringVar(&peerID, "peer", "", "peer identifier")
	return cmd
}
