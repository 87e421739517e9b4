package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/sandbox"
	"mercator-hq/callisto/pkg/script"
	"mercator-hq/callisto/pkg/telemetry/logging"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one sandbox job (started by the server)",
	Hidden: true,
	Args:   cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runWorker())
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

// runWorker serves the job on the inherited channel. The worker logs text
// to stderr, which the server passes through.
func runWorker() int {
	logger, err := logging.New(logging.Config{Level: "warn", Format: "text", Redact: true})
	if err != nil {
		return sandbox.ExitProtocol
	}
	logger = logger.With("worker_id", os.Getenv("CALLISTO_WORKER_ID"))

	channel := os.NewFile(sandbox.ChannelFD, "channel")
	return sandbox.ServeWorker(context.Background(), channel, sandbox.WorkerOptions{
		Engine:      &script.Engine{MemoryLimit: sandbox.MemoryLimitFromEnv()},
		MaxBody:     script.DefaultMaxBody,
		BodyTimeout: 5 * time.Second,
		Logger:      logger,
	})
}
