// Package chamber implements the per-chamber relay engine: the poll loop
// state machine, follower membership tracking, the mute registry, the admin
// command dispatcher, and the relay broadcaster. One Chamber owns one
// authenticated session and never shares mutable state with another; the only
// cross-chamber coordination is the control channel consumed by the
// supervisor.
package chamber

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allforeco/echochamber/bsky"
)

// Platform is the slice of the Bluesky client the chamber depends on. It
// exists so the loop's failure handling and routing are testable without a
// network.
type Platform interface {
	Login(ctx context.Context, username, password string) (*bsky.Session, error)
	ResolveHandle(ctx context.Context, handle string) (string, error)
	GetLog(ctx context.Context, sess *bsky.Session, cursor string) (*bsky.LogPage, error)
	ListFollowers(ctx context.Context, sess *bsky.Session, actor, cursor string) ([]bsky.Follower, string, error)
	GetConvoForMembers(ctx context.Context, sess *bsky.Session, members []string) (string, error)
	SendMessage(ctx context.Context, sess *bsky.Session, convoID, text string, facets []bsky.Facet) error
}

// Identity is the immutable definition of a running chamber.
type Identity struct {
	Handle   string
	Username string
	Password string // app password; also the admin credential for /mute and /shutdown
	Host     string
}

// Chamber is one bot identity plus its relay state.
type Chamber struct {
	identity Identity
	platform Platform
	control  chan<- ControlMessage
	mutes    *MuteRegistry
	logger   *slog.Logger

	// Pacing and budgets; tests shrink these.
	PollInterval    time.Duration
	UnreachableWait time.Duration
	TokenWait       time.Duration
	NetworkWait     time.Duration
	FatalBudget     int

	// Loop-owned state. The mutex only guards reads from the status endpoint;
	// all writes happen on the loop goroutine.
	mu        sync.RWMutex
	session   *bsky.Session
	convos    map[string]string // recipient did -> convo id, cleared on reconnect
	followers map[string]bsky.Follower
	announced map[string]bsky.Follower
	baselined bool // first refresh completed; diffs announce from now on
	lastPoll  time.Time
	state     string

	seen    *seenSet
	stopped atomic.Bool
}

// New builds a chamber for the given identity. The mute file is loaded from
// dataDir immediately; network activity starts in Run.
func New(identity Identity, platform Platform, control chan<- ControlMessage, dataDir string) (*Chamber, error) {
	mutes, err := LoadMuteRegistry(filepath.Join(dataDir, identity.Handle+".muted"))
	if err != nil {
		return nil, fmt.Errorf("chamber %s: %w", identity.Handle, err)
	}
	if muted := mutes.List(); len(muted) > 0 {
		slog.Info("loaded muted users", slog.String("handle", identity.Handle), slog.Any("muted", muted))
	}
	return &Chamber{
		identity: identity,
		platform: platform,
		control:  control,
		mutes:    mutes,
		logger:   slog.Default().With(slog.String("component", "chamber"), slog.String("handle", identity.Handle)),

		PollInterval:    15 * time.Second,
		UnreachableWait: 15 * time.Second,
		TokenWait:       2 * time.Second,
		NetworkWait:     60 * time.Second,
		FatalBudget:     10,

		convos:    make(map[string]string),
		followers: make(map[string]bsky.Follower),
		announced: make(map[string]bsky.Follower),
		seen:      newSeenSet(0),
		state:     "connecting",
	}, nil
}

// Handle returns the chamber's handle.
func (c *Chamber) Handle() string { return c.identity.Handle }

// Stop marks the chamber for retirement. Advisory: the loop observes it at
// its next iteration boundary, so one in-flight round-trip may still finish.
func (c *Chamber) Stop() { c.stopped.Store(true) }

// Stopped reports whether retirement has been requested.
func (c *Chamber) Stopped() bool { return c.stopped.Load() }

// connect establishes a fresh session and resolves the chamber's own DID
// from its handle (needed to discard echoes of its own messages). Any convo
// handles cached against the previous session are discarded.
func (c *Chamber) connect(ctx context.Context) error {
	sess, err := c.platform.Login(ctx, c.identity.Username, c.identity.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	did, err := c.platform.ResolveHandle(ctx, c.identity.Handle)
	if err != nil {
		return fmt.Errorf("resolve handle: %w", err)
	}
	sess.DID = did
	c.mu.Lock()
	c.session = sess
	c.convos = make(map[string]string)
	c.mu.Unlock()
	return nil
}

func (c *Chamber) setState(s string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Status is a point-in-time snapshot for the ops endpoint.
type Status struct {
	Handle    string    `json:"handle"`
	State     string    `json:"state"`
	Followers int       `json:"followers"`
	Muted     int       `json:"muted"`
	LastPoll  time.Time `json:"last_poll"`
}

// Status reports the chamber's current state for /status.
func (c *Chamber) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Handle:    c.identity.Handle,
		State:     c.state,
		Followers: len(c.followers),
		Muted:     len(c.mutes.List()),
		LastPoll:  c.lastPoll,
	}
}
