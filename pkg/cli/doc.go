/*
Package cli provides command-line helpers shared by the callisto commands.

Output Formatting:

Commands that list records (bans, journal entries, rule verdicts) build a
Table and print it in the format chosen with --format:

	table := cli.NewTable("CLIENT", "UNTIL", "REQUESTS")
	table.Append(ban.ClientID, ban.Until.Format(time.RFC3339), strconv.Itoa(ban.Count))
	if err := cli.NewFormatter(cli.FormatTable).FormatTo(os.Stdout, table); err != nil {
		return err
	}

Signal Handling:

SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
NotifyReload calls a function on every SIGHUP until stopped:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	stopReload := cli.NotifyReload(func() { reloadConfig() })
	defer stopReload()

Exit Codes:

Errors returned from commands map to process exit codes through ExitCode.
Configuration errors exit with 2, lint findings with 3, everything else
with 1.
*/
package cli
