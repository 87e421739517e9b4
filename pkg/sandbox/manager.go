package sandbox

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/httpwire"
	"mercator-hq/callisto/pkg/limits/ratelimit"
	"mercator-hq/callisto/pkg/script"
	"mercator-hq/callisto/pkg/telemetry/tracing"
)

// Manager runs scripts in short lived worker processes.
//
// Every job gets its own worker. The worker receives the raw request and
// the client socket, answers on the socket itself and exits. The manager
// enforces the lifetime, reports failures to the client and keeps the
// in-flight set accurate no matter how the worker ends.
type Manager struct {
	cfg     config.SandboxConfig
	spawner Spawner
	slots   *ratelimit.ConcurrentLimiter
	tracer  trace.Tracer
	logger  *slog.Logger

	mu   sync.Mutex
	jobs []Job
}

// Option configures a Manager.
type Option func(*Manager)

// WithSpawner replaces the default ExecSpawner.
func WithSpawner(s Spawner) Option {
	return func(m *Manager) { m.spawner = s }
}

// WithTracer sets the tracer used for job spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager. Without WithSpawner workers are started as
// "<worker_binary> worker".
func NewManager(cfg config.SandboxConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		slots:  ratelimit.NewConcurrentLimiter(cfg.MaxJobs),
		tracer: otel.Tracer("callisto/sandbox"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.spawner == nil {
		m.spawner = &ExecSpawner{
			Binary:        cfg.WorkerBinary,
			Args:          []string{"worker"},
			MemoryLimitMB: cfg.MemoryLimitMB,
		}
	}
	m.logger = m.logger.With("component", "sandbox")
	return m
}

// SetMaxJobs changes the in-flight limit. Running jobs are not affected.
func (m *Manager) SetMaxJobs(n int) {
	m.slots.SetLimit(n)
}

// InFlight returns the number of running jobs.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Jobs returns a snapshot of the in-flight set.
func (m *Manager) Jobs() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Job(nil), m.jobs...)
}

// Execute runs filePath for the request in raw on conn.
//
// The manager writes to conn only when the worker did not answer: 429 when
// no slot is free, 500 for spawn and script failures or a worker that died
// before answering, and 504 when the lifetime ran out. While the worker
// runs, conn is neither read nor written.
func (m *Manager) Execute(ctx context.Context, clientID, filePath string, conn net.Conn, raw []byte) (out Outcome) {
	job := Job{
		WorkerID: uuid.NewString(),
		ClientID: clientID,
		FilePath: filePath,
		Started:  time.Now(),
	}

	if !m.slots.Acquire() {
		m.logger.Warn("sandbox full", "client", clientID, "file", filePath, "max_jobs", m.slots.Limit())
		m.respond(conn, http.StatusTooManyRequests, "")
		job.State = StateRejected
		return Outcome{Job: job, State: StateRejected, Status: http.StatusTooManyRequests, ExitCode: -1}
	}
	defer m.slots.Release()

	m.add(job)
	defer func() { out.Job = m.remove(job) }()

	ctx, span := m.tracer.Start(ctx, "sandbox.execute", trace.WithAttributes(
		attribute.String(tracing.AttrWorkerID, job.WorkerID),
		attribute.String(tracing.AttrFile, filePath),
		attribute.String(tracing.AttrClient, clientID),
	))
	defer span.End()

	out = m.run(ctx, job, conn, raw)
	out.Duration = time.Since(job.Started)
	m.setState(job, out.State)

	tracing.SetSandboxAttributes(span, out.State.String(), out.ExitCode)
	if out.State != StateCompletedOk {
		if out.Err != nil {
			tracing.SetError(span, out.Err)
		} else {
			span.SetStatus(codes.Error, out.State.String())
		}
	}

	m.logger.Debug("sandbox job finished",
		"worker_id", job.WorkerID,
		"file", filePath,
		"state", out.State.String(),
		"exit_code", out.ExitCode,
		"duration_ms", out.Duration.Milliseconds(),
	)
	return out
}

func (m *Manager) run(ctx context.Context, job Job, conn net.Conn, raw []byte) Outcome {
	out := Outcome{Job: job, State: StatePending, ExitCode: -1}

	parent, child, err := newPair()
	if err != nil {
		m.logger.Error("failed to create worker channel", "error", err)
		out.State = StateCompletedError
		out.Status = m.respond(conn, http.StatusInternalServerError, "")
		return out
	}
	defer parent.close()

	proc, err := m.spawner.Spawn(job.WorkerID, child)
	child.Close()
	if err != nil {
		m.logger.Error("failed to spawn worker", "error", err)
		out.State = StateCompletedError
		out.Status = m.respond(conn, http.StatusInternalServerError, "")
		return out
	}
	out.State = StateRunning
	m.setState(job, StateRunning)

	// The timer and the exit race for the verdict; whichever takes the
	// lock first decides.
	var (
		mu       sync.Mutex
		exited   bool
		timedOut bool
	)
	kill := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if exited || timedOut {
			return false
		}
		timedOut = true
		proc.Kill()
		return true
	}

	timer := time.AfterFunc(m.cfg.Lifetime+m.cfg.Grace, func() {
		if kill() {
			m.setState(job, StateTimedOut)
			m.logger.Warn("worker exceeded lifetime", "worker_id", job.WorkerID, "file", job.FilePath)
		}
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() { kill() })
	defer stop()

	reports := make(chan *ReportMessage, 1)
	go m.converse(parent, job, conn, raw, reports)

	code, err := proc.Wait()
	mu.Lock()
	exited = true
	wasKilled := timedOut
	mu.Unlock()
	timer.Stop()
	out.ExitCode = code
	if err != nil {
		m.logger.Error("failed to wait for worker", "worker_id", job.WorkerID, "error", err)
	}

	// Unblock the conversation if the worker died mid-message.
	parent.conn.Close()
	report := <-reports

	switch {
	case wasKilled && ctx.Err() != nil:
		out.State = StateCompletedError
	case wasKilled:
		out.State = StateTimedOut
		out.Status = m.respond(conn, http.StatusGatewayTimeout, "")
	case report != nil && report.Status == StatusError:
		out.State = StateCompletedError
		out.Err = report.Error
		out.Status = m.respond(conn, http.StatusInternalServerError, m.detail(report.Error))
	case code == 0:
		out.State = StateCompletedOk
		out.Reusable = true
	case report == nil:
		// Died before starting its answer, e.g. out of memory.
		out.State = StateCompletedError
		m.logger.Warn("worker exited before answering", "worker_id", job.WorkerID, "exit_code", code)
		out.Status = m.respond(conn, http.StatusInternalServerError, "")
	default:
		// Died while writing: the socket may hold a partial answer.
		out.State = StateCompletedError
		m.logger.Warn("worker exited without report", "worker_id", job.WorkerID, "exit_code", code)
	}
	return out
}

// converse performs the exchange with a worker and delivers its last
// report on reports: nil when the worker never got to answer, writing when
// it died mid-answer.
func (m *Manager) converse(ch *channel, job Job, conn net.Conn, raw []byte, reports chan<- *ReportMessage) {
	var final *ReportMessage
	defer func() { reports <- final }()

	var hello ReportMessage
	if _, err := ch.recv(&hello); err != nil || hello.Status != StatusReady {
		return
	}

	req := RequestMessage{
		WorkerID:      job.WorkerID,
		RequestBase64: base64.StdEncoding.EncodeToString(raw),
		FilePath:      job.FilePath,
		ClientIP:      job.ClientID,
	}
	if err := ch.sendConn(req, conn); err != nil {
		m.logger.Error("failed to hand over connection", "worker_id", job.WorkerID, "error", err)
		return
	}

	for {
		var report ReportMessage
		if _, err := ch.recv(&report); err != nil {
			return
		}
		final = &report
		if report.Status != StatusWriting {
			return
		}
	}
}

func (m *Manager) detail(e *script.Error) string {
	if !m.cfg.ErrorDisplay || e == nil {
		return ""
	}
	if e.Stack != "" {
		return strings.ReplaceAll(e.Stack, `\n`, "\n")
	}
	return e.Error()
}

// respond writes a bare status response and returns the status, or zero
// when the connection is gone.
func (m *Manager) respond(conn net.Conn, status int, body string) int {
	resp := httpwire.Status(status, body)
	if _, err := resp.WriteTo(conn); err != nil {
		m.logger.Debug("failed to write sandbox status", "status", status, "error", err)
		return 0
	}
	return status
}

func (m *Manager) add(job Job) {
	job.State = StatePending
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
}

// setState moves the in-flight job to s.
func (m *Manager) setState(job Job, s JobState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.jobs {
		if m.jobs[i].matches(job) {
			m.jobs[i].State = s
			return
		}
	}
}

// remove drops the job matching worker id, client id and file path and
// returns it in StateRemoved.
func (m *Manager) remove(job Job) Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, j := range m.jobs {
		if j.matches(job) {
			m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
			j.State = StateRemoved
			return j
		}
	}
	job.State = StateRemoved
	return job
}
