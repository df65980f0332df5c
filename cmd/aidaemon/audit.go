package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-daemon/internal/config"
	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/events"
	pktNats "ai-daemon/pkg/nats"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	auditSubject string
	auditDurable string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Tail the audit event stream from NATS",
	Long: `Print audit events (turns, hops, function calls, sessions) published by running
daemons. Requires NATS_URL. Use --durable to resume from where a previous tail stopped.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditSubject, "subject", pktNats.AllSubjects, "subject filter, e.g. audit.turn_completed")
	auditCmd.Flags().StringVar(&auditDurable, "durable", "", "durable consumer name")
}

func runAudit(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if cfg.App.NatsURL == "" {
		return errors.New("NATS_URL is not set")
	}

	sub, err := pktNats.NewSubscriber(cfg.App.NatsURL, logger.NewNopLogger())
	if err != nil {
		return err
	}
	defer sub.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return sub.Subscribe(ctx, auditSubject, auditDurable, func(_ context.Context, e events.BaseEvent) error {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s %s\n",
			e.OccurredAt.Local().Format(time.TimeOnly),
			typeColor(e.Type).Sprint(e.Type),
			data,
		)
		return nil
	})
}

func typeColor(eventType string) *color.Color {
	switch eventType {
	case events.TypeTurnCompleted:
		return color.New(color.FgGreen, color.Bold)
	case events.TypeHopCompleted:
		return color.New(color.FgCyan)
	case events.TypeFunctionExecuted:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgYellow)
	}
}
