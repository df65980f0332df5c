package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ai-daemon/internal/config"
	"ai-daemon/internal/pkg/logger"
	"ai-daemon/pkg/provider"
	"ai-daemon/pkg/provider/factory"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var probeTimeout time.Duration

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Probe every configured provider and print its availability",
	RunE:  runProviders,
}

func init() {
	providersCmd.Flags().DurationVar(&probeTimeout, "timeout", 15*time.Second, "overall probe timeout")
}

func runProviders(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()

	agents, err := config.LoadAgents(cfg.AI.AgentsFile, cfg.CLI, cfg.Keys)
	if err != nil {
		return err
	}
	built, err := factory.Build(agents.Specs, http.DefaultClient, logger.NewNopLogger())
	if err != nil {
		return err
	}

	reg := provider.NewRegistry(nil)
	for _, p := range built {
		if err := reg.Register(p); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	if agents.Source != "" {
		color.Cyan("Agents file: %s", agents.Source)
	}
	for _, s := range reg.Statuses(ctx) {
		printStatus(s, s.ID == cfg.AI.DefaultProvider)
	}
	return nil
}

func printStatus(s provider.Status, isDefault bool) {
	var mark string
	switch {
	case !s.Enabled:
		mark = color.YellowString("disabled")
	case s.Available:
		mark = color.GreenString("available")
	default:
		mark = color.RedString("unavailable")
	}

	name := s.Name
	if s.Model != "" {
		name = fmt.Sprintf("%s (%s)", s.Name, s.Model)
	}
	if isDefault {
		name += color.CyanString(" [default]")
	}
	fmt.Printf("%-10s %-12s %s\n           %s\n", s.ID, mark, name, strings.Join(s.Capabilities, ", "))
}
