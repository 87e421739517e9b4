package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/cli"
	banstorage "mercator-hq/callisto/pkg/limits/storage"
)

var bansFlags struct {
	format string
	all    bool
	active bool
}

var bansCmd = &cobra.Command{
	Use:   "bans",
	Short: "Inspect and lift persisted client bans",
	Long: `Inspect and lift client bans persisted by the rate limiter.

Only the sqlite backend survives a restart; with the memory backend there
is nothing to inspect from outside the running server. Changes made here
take effect at the next server start.`,
}

var bansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored bans",
	Args:  cobra.NoArgs,
	RunE:  listBans,
}

var bansClearCmd = &cobra.Command{
	Use:   "clear [client...]",
	Short: "Remove stored bans",
	Long: `Remove the stored bans of the given clients, or every ban with --all.

Examples:
  callisto bans clear 203.0.113.9
  callisto bans clear --all`,
	RunE: clearBans,
}

func init() {
	rootCmd.AddCommand(bansCmd)
	bansCmd.AddCommand(bansListCmd, bansClearCmd)

	bansListCmd.Flags().StringVar(&bansFlags.format, "format", "table", "output format: table, json, csv")
	bansListCmd.Flags().BoolVar(&bansFlags.active, "active", false, "only list bans that have not expired")
	bansClearCmd.Flags().BoolVar(&bansFlags.all, "all", false, "remove every stored ban")
}

func openBans() (banstorage.Backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := banstorage.New(cfg.Limits.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open ban storage: %w", err)
	}
	return store, nil
}

func listBans(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(bansFlags.format)
	if err != nil {
		return err
	}
	store, err := openBans()
	if err != nil {
		return err
	}
	defer store.Close()

	bans, err := store.List(context.Background())
	if err != nil {
		return cli.NewCommandError("bans list", err)
	}

	now := time.Now()
	table := cli.NewTable("CLIENT", "UNTIL", "REMAINING", "REQUESTS", "CREATED")
	for _, b := range bans {
		active := b.Active(now)
		if bansFlags.active && !active {
			continue
		}
		remaining := "expired"
		if active {
			remaining = b.Until.Sub(now).Round(time.Second).String()
		}
		table.Append(
			b.ClientID,
			b.Until.UTC().Format(time.RFC3339),
			remaining,
			strconv.Itoa(b.Count),
			b.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
}

func clearBans(cmd *cobra.Command, args []string) error {
	if bansFlags.all == (len(args) > 0) {
		return fmt.Errorf("give client addresses or --all, not both or neither")
	}

	store, err := openBans()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	clients := args
	if bansFlags.all {
		bans, err := store.List(ctx)
		if err != nil {
			return cli.NewCommandError("bans clear", err)
		}
		for _, b := range bans {
			clients = append(clients, b.ClientID)
		}
	}

	for _, c := range clients {
		if err := store.Delete(ctx, c); err != nil {
			return cli.NewCommandError("bans clear", fmt.Errorf("%s: %w", c, err))
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared %d ban(s)\n", len(clients))
	return nil
}
