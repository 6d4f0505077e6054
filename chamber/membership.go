package chamber

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/allforeco/echochamber/bsky"
	"github.com/allforeco/echochamber/telemetry"
)

// refreshFollowers paginates the remote follower list, filters out muted
// users, and atomically swaps in the resulting map.
func (c *Chamber) refreshFollowers(ctx context.Context) error {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()
	current := make(map[string]bsky.Follower)
	cursor := ""
	for {
		page, next, err := c.platform.ListFollowers(ctx, sess, c.identity.Handle, cursor)
		if err != nil {
			return fmt.Errorf("list followers: %w", err)
		}
		for _, f := range page {
			if c.mutes.Muted(f.DID) {
				continue
			}
			current[f.DID] = f
		}
		if next == "" {
			break
		}
		cursor = next
	}
	c.mu.Lock()
	c.followers = current
	c.mu.Unlock()
	return nil
}

// diffAndAnnounce compares the current follower set against the last
// announced one and relays a join/leave announcement for any change. The
// very first refresh after (re)start only records the baseline, so a restart
// never produces a spurious "N people joined".
func (c *Chamber) diffAndAnnounce(ctx context.Context) {
	c.mu.Lock()
	if !c.baselined {
		c.baselined = true
		c.announced = c.followers
		c.mu.Unlock()
		return
	}
	var joined, left []string
	for did, f := range c.followers {
		if _, ok := c.announced[did]; !ok {
			joined = append(joined, f.Name())
		}
	}
	for did, f := range c.announced {
		if _, ok := c.followers[did]; !ok {
			left = append(left, f.Name())
		}
	}
	selfDID := ""
	if c.session != nil {
		selfDID = c.session.DID
	}
	c.announced = c.followers
	c.mu.Unlock()
	if len(joined) == 0 && len(left) == 0 {
		return
	}
	sort.Strings(joined)
	sort.Strings(left)
	var parts []string
	if len(joined) > 0 {
		parts = append(parts, fmt.Sprintf("%s joined the chamber", strings.Join(joined, ", ")))
	}
	if len(left) > 0 {
		parts = append(parts, fmt.Sprintf("%s left the chamber", strings.Join(left, ", ")))
	}
	announcement := strings.Join(parts, ". ") + "."
	c.logger.Info("membership changed", slog.Int("joined", len(joined)), slog.Int("left", len(left)))
	telemetry.Announcements.Inc()
	c.broadcastText(ctx, selfDID, announcement)
}

// followerName resolves a did to a display label. The chamber's own did maps
// to its handle; unknown senders get a synthesized anonymous label.
func (c *Chamber) followerName(did string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session != nil && did == c.session.DID {
		return c.identity.Handle
	}
	if f, ok := c.followers[did]; ok {
		return f.Name()
	}
	return "Anonymous " + did
}

// logFollowers mirrors the startup roster logging of the original service.
func (c *Chamber) logFollowers() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.followers) == 0 {
		c.logger.Info("no followers")
		return
	}
	for did, f := range c.followers {
		c.logger.Info("follower", slog.String("did", did),
			slog.String("display_name", f.DisplayName), slog.String("follower_handle", f.Handle))
	}
}
