package transferq

import (
	"context"
	"sync"
	"time"

	rtm "github.com/UniQw/transferq/internal/runtime"
	"github.com/UniQw/transferq/task"
)

// ServerConfig defines the configuration for a transferq server.
// Zero values select the defaults.
type ServerConfig struct {
	// MaxFrontendTasks and MaxBackgroundTasks bound the unfinished tasks per app and mode.
	MaxFrontendTasks   int
	MaxBackgroundTasks int
	// MaxRetry is the number of retries of a task with retry enabled.
	MaxRetry int
	// RetryBackoffMax caps the exponential delay between retries.
	RetryBackoffMax time.Duration
	// QueueSize is the capacity of the event queue.
	QueueSize int
	// SweepInterval is the period of the maintenance pass.
	SweepInterval time.Duration
	// Retention is how long finished tasks are kept once the table is large.
	Retention time.Duration
	// Survival is the age after which unfinished tasks fail.
	Survival       time.Duration
	PurgeThreshold int
	PurgeBatch     int
	// ProgressInterval bounds how often progress notifications are sent per task.
	ProgressInterval time.Duration
	// AppPolicy decides whether BackGround-mode tasks of an app may run in its current state.
	AppPolicy func(uid uint64, st task.AppState) bool
	Verifier  Verifier
	// Notifier receives every notification in addition to in-process subscribers.
	Notifier Notifier
	Metrics  *Metrics
	// Logger is the logger used for server events.
	Logger Logger
}

// Server schedules and runs transfers and owns the task manager loop.
// It also receives the system events that drive admission.
type Server struct {
	rt      *rtm.Runtime
	mux     *Mux
	mu      sync.Mutex
	started bool
	log     Logger
}

// NewServer creates a new server over st with handlers from mux.
func NewServer(st Store, cfg ServerConfig, mux *Mux) *Server {
	l := cfg.Logger
	if l == nil {
		l = NewFmtLogger()
	}
	if mux == nil {
		mux = NewMux()
	}
	rtc := rtm.Config{
		MaxFrontendTasks:   cfg.MaxFrontendTasks,
		MaxBackgroundTasks: cfg.MaxBackgroundTasks,
		MaxRetry:           cfg.MaxRetry,
		RetryBackoffMax:    cfg.RetryBackoffMax,
		QueueSize:          cfg.QueueSize,
		SweepInterval:      cfg.SweepInterval,
		Retention:          cfg.Retention,
		Survival:           cfg.Survival,
		PurgeThreshold:     cfg.PurgeThreshold,
		PurgeBatch:         cfg.PurgeBatch,
		ProgressInterval:   cfg.ProgressInterval,
		Verifier:           cfg.Verifier,
		Notifier:           cfg.Notifier,
		Metrics:            cfg.Metrics,
		Logger:             rtLogger{Logger: l},
	}
	if cfg.AppPolicy != nil {
		rtc.AppPolicy = cfg.AppPolicy
	}
	return &Server{rt: rtm.New(st, rtc, mux.executor()), mux: mux, log: l}
}

// Start restores persisted tasks and launches the task manager.
// It is idempotent and non-blocking.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		if s.log != nil {
			s.log.Warnf("server already started; ignoring Start()")
		}
		return nil
	}
	if err := s.rt.Start(); err != nil {
		return err
	}
	s.started = true
	if s.log != nil {
		s.log.Infof("server started")
	}
	return nil
}

// Stop shuts down the server, cancelling running transfers and waiting for them to exit.
// Their tasks resume on the next Start.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		if s.log != nil {
			s.log.Warnf("server not started; ignoring Stop()")
		}
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	if s.log != nil {
		s.log.Infof("stopping server")
	}
	s.rt.Stop()
}

// Client returns the control surface of the server.
func (s *Server) Client() *Client { return &Client{rt: s.rt} }

// NetAvailable reports that network netID came up.
func (s *Server) NetAvailable(netID uint32) { s.rt.NetAvailable(netID) }

// NetLost reports that network netID went down.
func (s *Server) NetLost(netID uint32) { s.rt.NetLost(netID) }

// NetCapabilityChanged reports the type and cost of network netID.
func (s *Server) NetCapabilityChanged(netID uint32, info task.NetInfo) {
	s.rt.NetCapabilityChanged(netID, info)
}

// AccountChanged reports the foreground account and the other active accounts.
func (s *Server) AccountChanged(foreground uint64, active []uint64) {
	s.rt.AccountChanged(foreground, active)
}

// AppStateChanged reports a lifecycle change of app uid.
func (s *Server) AppStateChanged(uid uint64, st task.AppState) { s.rt.AppStateChanged(uid, st) }

// MemoryLevelChanged applies a memory-pressure level in 0..7.
func (s *Server) MemoryLevelChanged(ctx context.Context, level int) error {
	return s.rt.MemoryLevelChanged(ctx, level)
}

// Sweep runs the maintenance pass now.
func (s *Server) Sweep(ctx context.Context) error { return s.rt.Sweep(ctx) }

// rtLogger adapts the public Logger to the internal runtime logger interface.
type rtLogger struct{ Logger }
