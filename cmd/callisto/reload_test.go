package main

import (
	"io"
	"log/slog"
	"reflect"
	"testing"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/sandbox"
)

func TestRestartRequired(t *testing.T) {
	base, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{"unchanged", func(*config.Config) {}, nil},
		{"listen address", func(c *config.Config) { c.Server.ListenAddress = "127.0.0.1:9999" }, []string{"server"}},
		{"two sections", func(c *config.Config) {
			c.Limits.Threshold++
			c.Journal.Enabled = !c.Journal.Enabled
		}, []string{"limits", "journal"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, _ := config.Default()
			tt.mutate(next)
			if got := restartRequired(base, next); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("restartRequired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyReload_MaxJobs(t *testing.T) {
	current, _ := config.Default()
	next, _ := config.Default()
	next.Sandbox.MaxJobs = current.Sandbox.MaxJobs + 3

	manager := sandbox.NewManager(current.Sandbox)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	applyReload(logger, current, next, manager)

	if current.Sandbox.MaxJobs != next.Sandbox.MaxJobs {
		t.Errorf("MaxJobs = %d, want %d", current.Sandbox.MaxJobs, next.Sandbox.MaxJobs)
	}
	if got := restartRequired(current, next); len(got) != 0 {
		t.Errorf("job limit change should not need a restart, got %v", got)
	}
}
