package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/cli"
	"mercator-hq/callisto/pkg/dispatch"
	"mercator-hq/callisto/pkg/filter"
	"mercator-hq/callisto/pkg/httpwire"
)

var rulesFlags struct {
	strict bool
	format string
	method string
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Check and try out .passfilter rule files",
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint [dir]",
	Short: "Validate every rule file below a directory",
	Long: `Validate every rule file below a directory, the serving root by default.

Errors are rules that can never fire. Warnings are rules that fire in a way
that is probably unintended, for example a "to" on a pass rule.

Exit status is 3 when errors were found, or warnings with --strict.

Examples:
  callisto rules lint
  callisto rules lint ./www --strict
  callisto rules lint ./www --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: lintRules,
}

var rulesTestCmd = &cobra.Command{
	Use:   "test <path>",
	Short: "Show how a request path would be handled",
	Long: `Evaluate the rule cascade for a request path against the serving root
and print the rule that fired and the resulting response.

Examples:
  callisto rules test /admin/
  callisto rules test "/shop/legacy.html?id=4" --method POST`,
	Args: cobra.ExactArgs(1),
	RunE: testRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesLintCmd, rulesTestCmd)

	rulesCmd.PersistentFlags().StringVar(&rulesFlags.format, "format", "table", "output format: table, json, csv")
	rulesLintCmd.Flags().BoolVar(&rulesFlags.strict, "strict", false, "treat warnings as errors")
	rulesTestCmd.Flags().StringVar(&rulesFlags.method, "method", "GET", "request method")
}

func lintRules(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(rulesFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	root := cfg.Server.Root
	if len(args) == 1 {
		root = args[0]
	}

	issues, files, err := filter.LintTree(root, cfg.Filter.FileName)
	if err != nil {
		return cli.NewCommandError("rules lint", err)
	}

	table := cli.NewTable("FILE", "RULE", "SEVERITY", "MESSAGE")
	failing := 0
	for _, i := range issues {
		rule := ""
		if i.Rule >= 0 {
			rule = strconv.Itoa(i.Rule)
		}
		table.Append(i.File, rule, string(i.Severity), i.Message)
		if i.Severity == filter.SeverityError || rulesFlags.strict {
			failing++
		}
	}

	out := cmd.OutOrStdout()
	if len(issues) > 0 || format != cli.FormatTable {
		if err := cli.NewFormatter(format).FormatTo(out, table); err != nil {
			return err
		}
	}
	if format == cli.FormatTable {
		fmt.Fprintf(out, "%d rule file(s) checked, %d finding(s)\n", files, len(issues))
	}

	if failing > 0 {
		return &cli.FindingsError{Count: failing}
	}
	return nil
}

func testRules(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(rulesFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	raw := []byte(rulesFlags.method + " " + args[0] + " HTTP/1.1\r\n\r\n")
	head, err := httpwire.ParseHead(raw, nil)
	if err != nil {
		return err
	}
	req, err := head.Request()
	if err != nil {
		return fmt.Errorf("invalid request: %w (status %d)", err, httpwire.StatusOf(err))
	}

	source := filter.NewDiskSource(cfg.Server.Root, cfg.Filter.FileName, nil)
	verdict := filter.NewEngine(cfg.Server.Root, source, cfg.Filter.DefaultDocuments, nil).Evaluate(req.Path)
	target := dispatch.NewResolver(cfg.Server.Root, cfg.Filter.DefaultDocuments, cfg.Sandbox.ScriptExtension).Resolve(verdict, req)

	table := cli.NewTable("FIELD", "VALUE")
	table.Append("path", req.Path)
	if verdict.Rule != nil {
		table.Append("rule_file", verdict.Rule.Root+"/"+cfg.Filter.FileName)
		table.Append("rule_index", strconv.Itoa(verdict.Rule.Index))
		table.Append("action", string(verdict.Rule.Action))
		table.Append("token", verdict.Token)
	} else {
		table.Append("action", "none")
	}
	if verdict.Rewritten {
		table.Append("rewritten", verdict.Path)
	}
	table.Append("kind", target.Kind.String())
	switch target.Kind {
	case dispatch.KindStatus:
		code, text := httpwire.StatusText(target.Status)
		table.Append("status", fmt.Sprintf("%d %s", code, text))
	case dispatch.KindRedirect:
		table.Append("status", strconv.Itoa(target.Status))
		table.Append("location", target.Location)
	default:
		table.Append("file", target.File)
	}

	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
}
