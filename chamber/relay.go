package chamber

import (
	"context"
	"log/slog"

	"github.com/allforeco/echochamber/bsky"
	"github.com/allforeco/echochamber/telemetry"
)

// broadcast fans a rich message out to every current follower except the
// sender, prefixed with the sender's display identity. Muted senders are
// dropped silently.
func (c *Chamber) broadcast(ctx context.Context, senderDID, text string, facets []bsky.Facet) {
	if c.mutes.Muted(senderDID) {
		c.logger.Info("dropping post from muted user", slog.String("sender", senderDID))
		return
	}
	spans := bsky.Recompose(text, facets)
	prefixed := make([]bsky.Span, 0, len(spans)+1)
	prefixed = append(prefixed, bsky.Span{Kind: bsky.SpanText, Text: c.followerName(senderDID) + ": "})
	prefixed = append(prefixed, spans...)
	outText, outFacets := bsky.BuildMessage(prefixed)

	c.mu.RLock()
	recipients := make([]string, 0, len(c.followers))
	for did := range c.followers {
		if did != senderDID {
			recipients = append(recipients, did)
		}
	}
	c.mu.RUnlock()

	telemetry.TimeFunc(telemetry.RelayDuration, func() {
		for _, did := range recipients {
			c.tell(ctx, did, outText, outFacets)
		}
	})
	telemetry.MessagesRelayed.Inc()
}

// broadcastText relays a plain-text message (announcements, chamber-origin
// notices) through the same fan-out path.
func (c *Chamber) broadcastText(ctx context.Context, senderDID, text string) {
	c.broadcast(ctx, senderDID, text, nil)
}

// tellOne sends a plain text message to a single user (admin replies).
func (c *Chamber) tellOne(ctx context.Context, did, text string) {
	c.tell(ctx, did, text, nil)
}

// tell resolves (and caches) the one-to-one conversation for a recipient and
// delivers one message. Delivery failures are logged and scoped to the one
// recipient; they never abort the surrounding fan-out.
func (c *Chamber) tell(ctx context.Context, did, text string, facets []bsky.Facet) {
	c.mu.RLock()
	sess := c.session
	convoID, cached := c.convos[did]
	c.mu.RUnlock()
	if !cached {
		id, err := c.platform.GetConvoForMembers(ctx, sess, []string{sess.DID, did})
		if err != nil {
			c.logger.Warn("convo lookup failed", slog.String("recipient", did), slog.Any("err", err))
			telemetry.DeliveriesFailed.Inc()
			return
		}
		convoID = id
		c.mu.Lock()
		c.convos[did] = convoID
		c.mu.Unlock()
	}
	c.logger.Debug("telling user", slog.String("recipient", did), slog.String("text", text))
	if err := c.platform.SendMessage(ctx, sess, convoID, text, facets); err != nil {
		c.logger.Warn("send failed", slog.String("recipient", did), slog.Any("err", err))
		telemetry.DeliveriesFailed.Inc()
		return
	}
	telemetry.Deliveries.Inc()
}
