package chamber

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/allforeco/echochamber/telemetry"
)

// helpTopics maps each admin command to its one-line description. Indentation
// in the full listing is tuned to line up in the Bluesky web interface.
var helpTopics = map[string]string{
	"/help":     "/help [cmd]          List admin commands, or explain one",
	"/who":      "/who                    List users in this Echo chamber",
	"/who-is":   "/who-is <user>  Show details about <user>",
	"/mute":     "/mute <password> <did>  Mute user with id <did>",
	"/muted":    "/muted                List muted users",
	"/shutdown": "/shutdown <password>  Shut down this Echo chamber",
	"/startup":  "/startup <handle> <user> <password> [host]  Start a new Echo chamber",
}

var helpOrder = []string{"/help", "/who", "/who-is", "/mute", "/muted", "/shutdown", "/startup"}

// handleCommand parses and executes one admin command. Errors and panics are
// confined here: the requester gets "Admin command failed." and the poll loop
// never sees them.
func (c *Chamber) handleCommand(ctx context.Context, senderDID, text string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("admin command panicked", slog.Any("panic", r))
			c.tellOne(ctx, senderDID, "Admin command failed.")
		}
	}()
	telemetry.CommandsHandled.Inc()
	words := strings.Fields(text)
	var err error
	switch words[0] {
	case "/help":
		c.handleHelp(ctx, senderDID, words[1:])
	case "/who":
		err = c.handleWho(ctx, senderDID)
	case "/who-is":
		err = c.handleWhoIs(ctx, senderDID, words[1:])
	case "/mute":
		err = c.handleMute(ctx, senderDID, words[1:])
	case "/muted":
		c.handleMuted(ctx, senderDID)
	case "/shutdown":
		err = c.handleShutdown(ctx, senderDID, words[1:])
	case "/startup":
		err = c.handleStartup(ctx, senderDID, words[1:])
	default:
		c.tellOne(ctx, senderDID, "Admin command not understood.")
	}
	if err != nil {
		c.logger.Error("admin command failed", slog.String("command", words[0]), slog.Any("err", err))
		c.tellOne(ctx, senderDID, "Admin command failed.")
	}
}

func (c *Chamber) handleHelp(ctx context.Context, senderDID string, args []string) {
	if len(args) > 0 {
		topic := args[0]
		if !strings.HasPrefix(topic, "/") {
			topic = "/" + topic
		}
		if line, ok := helpTopics[topic]; ok {
			c.tellOne(ctx, senderDID, line)
		} else {
			c.tellOne(ctx, senderDID, "Admin command not understood.")
		}
		return
	}
	lines := make([]string, 0, len(helpOrder)+1)
	lines = append(lines, "Admin commands:")
	for _, topic := range helpOrder {
		lines = append(lines, helpTopics[topic])
	}
	c.tellOne(ctx, senderDID, strings.Join(lines, "\n"))
}

func (c *Chamber) handleWho(ctx context.Context, senderDID string) error {
	if err := c.refreshFollowers(ctx); err != nil {
		return err
	}
	c.mu.RLock()
	names := make([]string, 0, len(c.followers))
	for did, f := range c.followers {
		if did != senderDID {
			names = append(names, f.Name())
		}
	}
	total := len(c.followers)
	c.mu.RUnlock()
	sort.Strings(names)
	others := strings.Join(names, ", ")
	switch {
	case total >= 3:
		c.tellOne(ctx, senderDID, fmt.Sprintf("There are %d other members in this Echo chamber: %s", total-1, others))
	case total == 2:
		c.tellOne(ctx, senderDID, fmt.Sprintf("There is one other member in this Echo chamber: %s", others))
	default:
		c.tellOne(ctx, senderDID, "There are no other members in this Echo chamber.")
	}
	return nil
}

func (c *Chamber) handleWhoIs(ctx context.Context, senderDID string, terms []string) error {
	c.mu.RLock()
	followers := c.followers
	c.mu.RUnlock()
	matches := 0
	for _, f := range followers {
		for _, term := range terms {
			if strings.Contains(f.DID, term) || strings.Contains(f.Handle, term) || strings.Contains(f.DisplayName, term) {
				matches++
				c.tellOne(ctx, senderDID, fmt.Sprintf("%s (%s) %s", f.DisplayName, f.Handle, f.DID))
				break
			}
		}
	}
	if matches == 0 {
		c.tellOne(ctx, senderDID, "No matching users found.")
	}
	return nil
}

func (c *Chamber) handleMute(ctx context.Context, senderDID string, args []string) error {
	if len(args) < 2 {
		c.tellOne(ctx, senderDID, "Usage: /mute <password> <did>...")
		return nil
	}
	if args[0] != c.identity.Password {
		c.logger.Warn("mute rejected: bad password", slog.String("sender", senderDID))
		c.tellOne(ctx, senderDID, "Not authorized.")
		return nil
	}
	for _, target := range args[1:] {
		if err := c.mutes.Mute(target, senderDID); err != nil {
			return err
		}
	}
	c.handleMuted(ctx, senderDID)
	return nil
}

func (c *Chamber) handleMuted(ctx context.Context, senderDID string) {
	c.tellOne(ctx, senderDID, "Muted users: "+strings.Join(c.mutes.List(), ", "))
}

func (c *Chamber) handleShutdown(ctx context.Context, senderDID string, args []string) error {
	if len(args) < 1 || args[0] != c.identity.Password {
		c.logger.Warn("shutdown rejected: bad password", slog.String("sender", senderDID))
		c.tellOne(ctx, senderDID, "Not authorized.")
		return nil
	}
	c.tellOne(ctx, senderDID, fmt.Sprintf("Shutting down %s.", c.identity.Handle))
	c.logger.Info("shutdown requested", slog.String("sender", senderDID))
	c.Stop()
	c.control <- ControlMessage{Kind: ControlShutdown, Handle: c.identity.Handle}
	return nil
}

func (c *Chamber) handleStartup(ctx context.Context, senderDID string, args []string) error {
	if len(args) < 3 {
		c.tellOne(ctx, senderDID, "Usage: /startup <handle> <user> <password> [host]")
		return nil
	}
	host := c.identity.Host
	if len(args) >= 4 {
		host = args[3]
	}
	c.logger.Info("startup requested", slog.String("sender", senderDID), slog.String("new_handle", args[0]))
	c.control <- ControlMessage{
		Kind:     ControlStartup,
		Handle:   args[0],
		Username: args[1],
		Password: args[2],
		Host:     host,
	}
	c.tellOne(ctx, senderDID, fmt.Sprintf("Starting %s.", args[0]))
	return nil
}
