package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// Spawner starts worker processes.
type Spawner interface {
	// Spawn starts a worker for workerID with channel as ChannelFD. The
	// caller closes channel once Spawn returns.
	Spawn(workerID string, channel *os.File) (Process, error)
}

// Process is a started worker.
type Process interface {
	// Pid returns the process id.
	Pid() int

	// Kill terminates the worker immediately.
	Kill() error

	// Wait blocks until the worker exits and returns its exit code, -1
	// when it was killed by a signal.
	Wait() (int, error)
}

// ExecSpawner runs the worker as a child process of the current binary.
type ExecSpawner struct {
	// Binary is the executable, os.Executable() when empty.
	Binary string

	// Args follow the binary, e.g. ["worker"].
	Args []string

	// Env is appended to the inherited environment.
	Env []string

	// MemoryLimitMB is passed to the worker as MemoryLimitEnv, which
	// bounds the script heap, and as GOMEMLIMIT so the collector works
	// harder before the bound is reached.
	MemoryLimitMB int
}

// MemoryLimitEnv carries the worker memory limit in MiB.
const MemoryLimitEnv = "CALLISTO_MEMORY_LIMIT_MB"

// MemoryLimitFromEnv returns the limit set by ExecSpawner in bytes, zero
// when none was set.
func MemoryLimitFromEnv() int64 {
	mb, err := strconv.ParseInt(os.Getenv(MemoryLimitEnv), 10, 64)
	if err != nil || mb <= 0 {
		return 0
	}
	return mb << 20
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(workerID string, channel *os.File) (Process, error) {
	binary := s.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker binary: %w", err)
		}
		binary = exe
	}

	cmd := exec.Command(binary, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env, "CALLISTO_WORKER_ID="+workerID)
	if s.MemoryLimitMB > 0 {
		limit := strconv.Itoa(s.MemoryLimitMB)
		cmd.Env = append(cmd.Env, MemoryLimitEnv+"="+limit, "GOMEMLIMIT="+limit+"MiB")
	}
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{channel}
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Kill() error {
	return killProcess(p.cmd.Process)
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	code := p.cmd.ProcessState.ExitCode()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return code, nil
	}
	return code, err
}
