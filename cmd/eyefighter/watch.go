package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		Short:   "Print daemon events as they happen",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ch, err := apiClient().SubscribeEvents(ctx)
			if err != nil {
				return fmt.Errorf("failed to subscribe to events: %w", err)
			}
			name := color.New(color.Bold, color.FgCyan)
			for ev := range ch {
				cmd.Printf("%s %s %s\n", time.Now().Format(time.TimeOnly), name.Sprint(ev.Name), string(ev.Data))
			}
			return nil
		},
	}
}
