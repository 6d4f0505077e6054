package chamber

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/allforeco/echochamber/bsky"
	"github.com/allforeco/echochamber/telemetry"
)

// Run drives the chamber's poll loop until Stop is called, the context is
// cancelled, or the consecutive-unclassified-failure budget is exhausted.
// Only the last case returns a non-nil error; the supervisor surfaces it as
// the chamber's abnormal termination.
//
// The loop's variables (cursor, failure counter, session) are explicit and
// local so each row of the failure-classification table is observable:
//
//	unreachable    wait 15s, same cursor
//	invalid token  wait 2s, reconnect, cursor cleared
//	expired token  wait 2s, reconnect, cursor kept
//	network        wait 60s, reconnect, cursor kept
//	validation     log, retry immediately
//	other          wait 2s, reconnect, cursor cleared, counter +1 (fatal at budget)
//	success        cursor advanced, counter reset
func (c *Chamber) Run(ctx context.Context) error {
	c.setState("connecting")
	if err := c.connect(ctx); err != nil {
		return fmt.Errorf("chamber %s: connect: %w", c.identity.Handle, err)
	}
	c.mu.RLock()
	did := c.session.DID
	c.mu.RUnlock()
	c.logger.Info("connected", slog.String("host", c.identity.Host), slog.String("did", did))
	if err := c.refreshFollowers(ctx); err != nil {
		// Leave the baseline unset: recording an empty roster here would make
		// the next successful refresh announce every member as joined.
		c.logger.Warn("initial follower refresh failed", slog.Any("err", err))
	} else {
		c.diffAndAnnounce(ctx) // records the baseline; never announces first time
	}
	c.logFollowers()

	cursor := ""
	failures := 0
	c.setState("polling")
	for !c.stopped.Load() && ctx.Err() == nil {
		pollStart := time.Now()
		pollCtx, span := telemetry.StartSpan(ctx, "chamber", "poll "+c.identity.Handle)
		page, err := c.platform.GetLog(pollCtx, c.currentSession(), cursor)
		telemetry.RecordError(span, err)
		span.End()
		telemetry.PollCycles.Inc()
		if err != nil {
			kind := bsky.Classify(err)
			telemetry.PollFailures.WithLabelValues(kind.String()).Inc()
			switch kind {
			case bsky.FailureUnreachable:
				c.logger.Warn("unable to reach host", slog.Any("err", err))
				c.sleep(ctx, c.UnreachableWait)
			case bsky.FailureInvalidToken:
				c.logger.Info("invalid token, renewing connection")
				cursor = "" // old cursor is not valid with a new connection
				c.sleep(ctx, c.TokenWait)
				c.reconnect(ctx)
			case bsky.FailureExpiredToken:
				c.logger.Info("expired token, renewing connection")
				c.sleep(ctx, c.TokenWait)
				c.reconnect(ctx)
			case bsky.FailureNetwork:
				c.logger.Info("network error, renewing connection", slog.Any("err", err))
				c.sleep(ctx, c.NetworkWait)
				c.reconnect(ctx)
			case bsky.FailureValidation:
				c.logger.Warn("malformed log payload, skipping", slog.Any("err", err))
			default:
				failures++
				if failures >= c.FatalBudget {
					c.setState("failed")
					return fmt.Errorf("chamber %s: unable to get message log after %d consecutive failures: %w",
						c.identity.Handle, failures, err)
				}
				c.logger.Info("unclassified failure, renewing cursor and connection",
					slog.Int("consecutive", failures), slog.Any("err", err))
				cursor = ""
				c.sleep(ctx, c.TokenWait)
				c.reconnect(ctx)
			}
			continue
		}
		failures = 0
		cursor = page.Cursor
		c.mu.Lock()
		c.lastPoll = time.Now()
		c.mu.Unlock()
		for _, ev := range page.Events {
			c.dispatch(ctx, ev)
			if c.stopped.Load() {
				break
			}
		}
		telemetry.PollDuration.Observe(time.Since(pollStart).Seconds())
		c.sleep(ctx, c.PollInterval)
	}
	c.setState("stopped")
	c.logger.Info("poll loop stopped")
	return nil
}

// dispatch routes one decoded log event.
func (c *Chamber) dispatch(ctx context.Context, ev bsky.LogEvent) {
	telemetry.EventsProcessed.Inc()
	switch ev.Kind {
	case bsky.EventBeginConvo, bsky.EventLeaveConvo, bsky.EventAcceptConvo:
		c.logger.Info("conversation lifecycle event", slog.String("kind", ev.Kind.String()))
		if err := c.refreshFollowers(ctx); err != nil {
			c.logger.Warn("follower refresh failed", slog.Any("err", err))
		}
		return
	case bsky.EventMessage:
	default:
		return
	}
	m := ev.Message
	if m == nil {
		return
	}
	if m.SenderDID == c.currentSession().DID {
		c.logger.Debug("echo of own message", slog.String("text", m.Text))
		return
	}
	if c.seen.contains(m.ID) {
		c.logger.Debug("duplicate message suppressed", slog.String("id", m.ID))
		telemetry.DuplicatesSuppressed.Inc()
		return
	}
	c.seen.add(m.ID)
	c.logger.Info("message received", slog.String("sender", m.SenderDID), slog.String("text", m.Text))
	if strings.HasPrefix(strings.TrimSpace(m.Text), "/") {
		c.handleCommand(ctx, m.SenderDID, strings.TrimSpace(m.Text))
		return
	}
	if err := c.refreshFollowers(ctx); err != nil {
		c.logger.Warn("follower refresh failed", slog.Any("err", err))
	} else {
		c.diffAndAnnounce(ctx)
	}
	c.broadcast(ctx, m.SenderDID, m.Text, m.Facets)
}

// reconnect replaces the session. Failures are logged and left for the next
// poll to classify; transient faults never escalate past the loop.
func (c *Chamber) reconnect(ctx context.Context) {
	c.setState("connecting")
	telemetry.Reconnects.Inc()
	if err := c.connect(ctx); err != nil {
		c.logger.Warn("reconnect failed", slog.Any("err", err))
	}
	c.setState("polling")
}

func (c *Chamber) currentSession() *bsky.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// sleep waits for d or until the context is cancelled.
func (c *Chamber) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
