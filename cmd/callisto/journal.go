package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/cli"
	"mercator-hq/callisto/pkg/journal"
	"mercator-hq/callisto/pkg/journal/export"
	"mercator-hq/callisto/pkg/journal/retention"
	journalstorage "mercator-hq/callisto/pkg/journal/storage"
)

var journalFlags struct {
	since      string
	until      string
	client     string
	pathPrefix string
	action     string
	kind       string
	status     string
	limit      int
	offset     int
	format     string
	output     string
	count      bool
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the access journal",
	Long: `Query and prune the access journal.

The journal records one entry per answered request: who asked, which rule
fired and what was sent back. It must be enabled in the configuration and
use the sqlite backend to be readable from this command.`,
}

var journalQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query journal entries",
	Long: `Query journal entries with filters.

Times are RFC3339 timestamps or durations counted back from now.
Status is a single code ("404") or a class ("5xx").

Examples:
  # Last hour of a single client
  callisto journal query --client 203.0.113.9 --since 1h

  # Every denied request below /admin
  callisto journal query --path /admin --action deny

  # Server errors as CSV
  callisto journal query --status 5xx --format csv --output errors.csv`,
	Args: cobra.NoArgs,
	RunE: queryJournal,
}

var journalPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete entries older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  pruneJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalQueryCmd, journalPruneCmd)

	f := journalQueryCmd.Flags()
	f.StringVar(&journalFlags.since, "since", "", "only entries at or after this time (RFC3339 or duration)")
	f.StringVar(&journalFlags.until, "until", "", "only entries at or before this time (RFC3339 or duration)")
	f.StringVar(&journalFlags.client, "client", "", "client address")
	f.StringVar(&journalFlags.pathPrefix, "path", "", "request path prefix")
	f.StringVar(&journalFlags.action, "action", "", "rule action: pass, deny, forward")
	f.StringVar(&journalFlags.kind, "kind", "", "response kind: static, script, redirect, status")
	f.StringVar(&journalFlags.status, "status", "", "status code or class, e.g. 404 or 4xx")
	f.IntVar(&journalFlags.limit, "limit", journal.DefaultLimit, "maximum number of entries")
	f.IntVar(&journalFlags.offset, "offset", 0, "number of entries to skip")
	f.StringVar(&journalFlags.format, "format", "table", "output format: table, json, csv")
	f.StringVarP(&journalFlags.output, "output", "o", "", "write to file instead of stdout")
	f.BoolVar(&journalFlags.count, "count", false, "print only the number of matching entries")
}

func openJournal() (journal.Storage, int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, 0, err
	}
	if cfg.Journal.Backend != "sqlite" {
		return nil, 0, cli.NewConfigError("journal.backend", "the journal can only be read from the sqlite backend")
	}
	store, err := journalstorage.New(cfg.Journal)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open journal: %w", err)
	}
	return store, cfg.Journal.RetentionDays, nil
}

func queryJournal(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(journalFlags.format)
	if err != nil {
		return err
	}
	query, err := buildJournalQuery(time.Now())
	if err != nil {
		return err
	}

	store, _, err := openJournal()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if journalFlags.count {
		n, err := store.Count(ctx, query)
		if err != nil {
			return cli.NewCommandError("journal query", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	}

	entries, err := store.Query(ctx, query)
	if err != nil {
		return cli.NewCommandError("journal query", err)
	}

	var out io.Writer = cmd.OutOrStdout()
	if journalFlags.output != "" {
		f, err := os.Create(journalFlags.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	switch format {
	case cli.FormatJSON:
		return export.NewJSONExporter(true).Export(ctx, entries, out)
	case cli.FormatCSV:
		return export.NewCSVExporter(true).Export(ctx, entries, out)
	default:
		return cli.NewFormatter(cli.FormatTable).FormatTo(out, journalTable(entries))
	}
}

func journalTable(entries []*journal.Entry) *cli.Table {
	table := cli.NewTable("TIME", "CLIENT", "METHOD", "PATH", "RULE", "KIND", "STATUS", "DURATION")
	for _, e := range entries {
		rule := "-"
		if e.RuleAction != "" {
			rule = e.RuleAction + " " + e.RuleToken
		}
		table.Append(
			e.Time.UTC().Format(time.RFC3339),
			e.ClientID,
			e.Method,
			e.Path,
			rule,
			e.Kind,
			strconv.Itoa(e.Status),
			e.Duration.Round(time.Microsecond).String(),
		)
	}
	return table
}

func buildJournalQuery(now time.Time) (*journal.Query, error) {
	q := &journal.Query{
		ClientID:   journalFlags.client,
		PathPrefix: journalFlags.pathPrefix,
		RuleAction: journalFlags.action,
		Kind:       journalFlags.kind,
		Limit:      journalFlags.limit,
		Offset:     journalFlags.offset,
	}

	var err error
	if q.StartTime, err = parseTimeFlag(journalFlags.since, now); err != nil {
		return nil, fmt.Errorf("invalid --since: %w", err)
	}
	if q.EndTime, err = parseTimeFlag(journalFlags.until, now); err != nil {
		return nil, fmt.Errorf("invalid --until: %w", err)
	}
	if q.MinStatus, q.MaxStatus, err = parseStatusFlag(journalFlags.status); err != nil {
		return nil, fmt.Errorf("invalid --status: %w", err)
	}

	journal.ApplyDefaults(q)
	if err := journal.Validate(q); err != nil {
		return nil, err
	}
	return q, nil
}

// parseTimeFlag accepts an RFC3339 time or a duration before now.
func parseTimeFlag(s string, now time.Time) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		t := now.Add(-d)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%q is neither a duration nor an RFC3339 time", s)
	}
	return &t, nil
}

// parseStatusFlag turns "404" into 404..404 and "4xx" into 400..499.
func parseStatusFlag(s string) (int, int, error) {
	if s == "" {
		return 0, 0, nil
	}
	if len(s) == 3 && strings.EqualFold(s[1:], "xx") && s[0] >= '1' && s[0] <= '5' {
		base := int(s[0]-'0') * 100
		return base, base + 99, nil
	}
	code, err := strconv.Atoi(s)
	if err != nil || code < 100 || code > 599 {
		return 0, 0, fmt.Errorf("%q is not a status code or class", s)
	}
	return code, code, nil
}

func pruneJournal(cmd *cobra.Command, args []string) error {
	store, days, err := openJournal()
	if err != nil {
		return err
	}
	defer store.Close()

	if days <= 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Retention is disabled, nothing to prune")
		return nil
	}

	n, err := retention.NewPruner(store, &retention.Config{RetentionDays: days}).Prune(context.Background())
	if err != nil {
		return cli.NewCommandError("journal prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d entries older than %d day(s)\n", n, days)
	return nil
}
