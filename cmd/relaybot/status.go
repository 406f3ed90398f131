package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/provider"
	"relaybot/internal/relaylog"
)

func statusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show provider health and recent relays",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				fmt.Printf("Config:    %s (not loaded: %v)\n", cfgPath, err)
				cfg = config.Defaults()
			} else {
				fmt.Printf("Config:    %s\n", cfgPath)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			fmt.Println("Providers:")
			report := provider.NewFactory(cfg, logger).HealthReport(ctx)
			names := make([]string, 0, len(report))
			for name := range report {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if err := report[name]; err != nil {
					fmt.Printf("  %-12s unhealthy: %v\n", name, err)
				} else {
					fmt.Printf("  %-12s ok\n", name)
				}
			}

			if !cfg.RelayLog.Enabled {
				fmt.Println("Relay log: disabled")
				return nil
			}
			store, err := relaylog.Open(ctx, cfg.RelayLog, logger)
			if err != nil {
				fmt.Printf("Relay log: unavailable: %v\n", err)
				return nil
			}
			defer store.Close()

			recs, err := store.Recent(ctx, limit)
			if err != nil {
				return fmt.Errorf("read relay log: %w", err)
			}
			fmt.Printf("Relay log: %s (%s)\n", cfg.RelayLog.Driver, humanize.Comma(int64(len(recs)))+" recent")
			printRelays(os.Stdout, recs, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of recent relays to show")
	return cmd
}

// printRelays renders relay records as an aligned table.
func printRelays(w io.Writer, recs []domain.RelayRecord, now time.Time) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "  no relays recorded yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  WHEN\tCHANNEL\tUSER\tPIPELINE\tOUTCOME\tSENT\tLATENCY")
	for _, r := range recs {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%t\t%s ms\n",
			humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
			r.Channel, r.UserID, r.Pipeline, r.Outcome, r.Delivered,
			humanize.Comma(r.LatencyMs),
		)
	}
	tw.Flush()
}
