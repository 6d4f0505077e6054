// Package supervisor owns the set of running chambers in a process. It is
// the only component that inserts or removes entries: chambers request
// changes by enqueueing control messages, and the supervisor's consume loop
// applies them. The process exits when no chamber remains active.
package supervisor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/allforeco/echochamber/chamber"
	"github.com/allforeco/echochamber/crypto"
	"github.com/allforeco/echochamber/telemetry"
)

// PlatformFactory builds a platform client for a given host. Injected so
// tests can substitute a fake.
type PlatformFactory func(host string) chamber.Platform

type running struct {
	ch *chamber.Chamber
}

type exitEvent struct {
	handle string
	ch     *chamber.Chamber
	err    error
}

// Supervisor starts one poll loop per chamber definition and consumes the
// shared control channel.
type Supervisor struct {
	dataDir     string
	enc         crypto.Encryptor // nil: passwords stored plaintext
	newPlatform PlatformFactory
	logger      *slog.Logger

	// PollInterval overrides each chamber's default poll pacing when > 0.
	PollInterval time.Duration

	control chan chamber.ControlMessage
	exits   chan exitEvent

	mu     sync.Mutex
	active map[string]*running
}

// New builds a supervisor. enc may be nil when at-rest encryption is not
// configured.
func New(dataDir string, enc crypto.Encryptor, newPlatform PlatformFactory) *Supervisor {
	return &Supervisor{
		dataDir:     dataDir,
		enc:         enc,
		newPlatform: newPlatform,
		logger:      slog.Default().With(slog.String("component", "supervisor")),
		control:     make(chan chamber.ControlMessage, 16),
		exits:       make(chan exitEvent, 16),
		active:      make(map[string]*running),
	}
}

// Start registers a chamber for the definition and launches its poll loop.
// A chamber already active under the same handle is marked for retirement
// first; at most one loop runs per handle.
func (s *Supervisor) Start(ctx context.Context, def Definition) error {
	identity := chamber.Identity{
		Handle:   def.Handle,
		Username: def.Username,
		Password: def.AppPassword,
		Host:     def.Hostname,
	}
	ch, err := chamber.New(identity, s.newPlatform(def.Hostname), s.control, s.dataDir)
	if err != nil {
		return err
	}
	if s.PollInterval > 0 {
		ch.PollInterval = s.PollInterval
	}
	s.mu.Lock()
	if prior, ok := s.active[def.Handle]; ok {
		s.logger.Info("retiring prior chamber with same handle", slog.String("handle", def.Handle))
		prior.ch.Stop()
	}
	s.active[def.Handle] = &running{ch: ch}
	telemetry.SetActiveChambers(len(s.active))
	s.mu.Unlock()
	go func() {
		err := ch.Run(ctx)
		s.exits <- exitEvent{handle: def.Handle, ch: ch, err: err}
	}()
	s.logger.Info("chamber started", slog.String("handle", def.Handle), slog.String("host", def.Hostname))
	return nil
}

// deregister removes the handle if it still maps to the given chamber
// instance; a replacement started under the same handle is left alone.
func (s *Supervisor) deregister(handle string, ch *chamber.Chamber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.active[handle]; ok && (ch == nil || r.ch == ch) {
		r.ch.Stop()
		delete(s.active, handle)
		telemetry.SetActiveChambers(len(s.active))
	}
}

func (s *Supervisor) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Statuses reports every active chamber, sorted by handle, for /status.
func (s *Supervisor) Statuses() []chamber.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chamber.Status, 0, len(s.active))
	for _, r := range s.active {
		out = append(out, r.ch.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Run consumes control messages and chamber exits until no chamber remains
// active or the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if s.activeCount() == 0 {
			s.logger.Info("no chambers active, terminating")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.control:
			s.handleControl(ctx, msg)
		case e := <-s.exits:
			if e.err != nil {
				s.logger.Error("chamber terminated abnormally", slog.String("handle", e.handle), slog.Any("err", e.err))
			}
			s.deregister(e.handle, e.ch)
		}
	}
}

func (s *Supervisor) handleControl(ctx context.Context, msg chamber.ControlMessage) {
	switch msg.Kind {
	case chamber.ControlShutdown:
		s.logger.Info("shutdown control message", slog.String("handle", msg.Handle))
		s.deregister(msg.Handle, nil)
		if err := DeleteDefinition(s.dataDir, msg.Handle); err != nil {
			s.logger.Error("definition delete failed", slog.String("handle", msg.Handle), slog.Any("err", err))
		}
	case chamber.ControlStartup:
		s.logger.Info("startup control message", slog.String("handle", msg.Handle))
		def := Definition{
			Handle:      msg.Handle,
			Username:    msg.Username,
			AppPassword: msg.Password,
			Hostname:    msg.Host,
		}
		if err := SaveDefinition(s.dataDir, def, s.enc); err != nil {
			s.logger.Error("definition save failed", slog.String("handle", msg.Handle), slog.Any("err", err))
		}
		if err := s.Start(ctx, def); err != nil {
			s.logger.Error("chamber start failed, skipping", slog.String("handle", msg.Handle), slog.Any("err", err))
		}
	}
}
