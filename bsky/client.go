// Package bsky contains a minimal Bluesky XRPC client covering what the
// relay needs: session login, handle resolution, incremental convo log
// retrieval, follower listing, convo lookup, and message send. Chat calls
// are routed through the Bluesky chat service proxy via the atproto-proxy
// header.
package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// chatProxy is the service ref for chat.bsky.* calls.
const chatProxy = "did:web:api.bsky.chat#bsky_chat"

// Session is an authenticated platform session. It is replaced wholesale on
// reconnect, never mutated in place; callers must discard any conversation
// handles cached against the old session.
type Session struct {
	DID       string `json:"did"`
	Handle    string `json:"handle"`
	AccessJWT string `json:"accessJwt"`
}

// Follower is a snapshot of one account following the chamber.
type Follower struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

// Name returns the follower's display name, falling back to the handle.
func (f Follower) Name() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return f.Handle
}

// LogPage is one batch of convo log events plus the cursor to resume from.
type LogPage struct {
	Cursor string
	Events []LogEvent
}

// Client speaks XRPC to a single PDS host.
type Client struct {
	Host       string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) url(method string) string {
	return strings.TrimRight(c.Host, "/") + "/xrpc/" + method
}

// do performs one XRPC call and decodes the response into out (if non-nil).
// Non-2xx responses become *APIError; undecodable success bodies become
// *ValidationError.
func (c *Client) do(ctx context.Context, httpMethod, method string, sess *Session, query map[string][]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", method, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, c.url(method), reader)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess != nil {
		req.Header.Set("Authorization", "Bearer "+sess.AccessJWT)
	}
	if strings.HasPrefix(method, "chat.") {
		req.Header.Set("Atproto-Proxy", chatProxy)
	}
	q := req.URL.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	req.URL.RawQuery = q.Encode()
	resp, err := c.http().Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Code = "UnknownError"
			apiErr.Message = resp.Status
		}
		return fmt.Errorf("%s: %w", method, apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ValidationError{Op: method, Err: err}
	}
	return nil
}

// Login authenticates with an app password and returns a fresh session.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	var sess Session
	err := c.do(ctx, http.MethodPost, "com.atproto.server.createSession", nil,
		nil, map[string]string{"identifier": username, "password": password}, &sess)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ResolveHandle resolves a handle to its DID.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var body struct {
		DID string `json:"did"`
	}
	err := c.do(ctx, http.MethodGet, "com.atproto.identity.resolveHandle", nil,
		map[string][]string{"handle": {handle}}, nil, &body)
	if err != nil {
		return "", err
	}
	if body.DID == "" {
		return "", &ValidationError{Op: "resolveHandle", Err: fmt.Errorf("empty did for %s", handle)}
	}
	return body.DID, nil
}

// GetLog fetches the next batch of convo log events after cursor. An empty
// cursor reads from the beginning of the platform's retention window.
func (c *Client) GetLog(ctx context.Context, sess *Session, cursor string) (*LogPage, error) {
	query := map[string][]string{}
	if cursor != "" {
		query["cursor"] = []string{cursor}
	}
	var body struct {
		Cursor string            `json:"cursor"`
		Logs   []json.RawMessage `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, "chat.bsky.convo.getLog", sess, query, nil, &body); err != nil {
		return nil, err
	}
	page := &LogPage{Cursor: body.Cursor}
	for _, raw := range body.Logs {
		ev, err := decodeLogEvent(raw)
		if err != nil {
			return nil, err
		}
		page.Events = append(page.Events, ev)
	}
	return page, nil
}

// ListFollowers returns one page of the actor's followers and the cursor for
// the next page (empty when exhausted).
func (c *Client) ListFollowers(ctx context.Context, sess *Session, actor, cursor string) ([]Follower, string, error) {
	query := map[string][]string{"actor": {actor}}
	if cursor != "" {
		query["cursor"] = []string{cursor}
	}
	var body struct {
		Followers []Follower `json:"followers"`
		Cursor    string     `json:"cursor"`
	}
	if err := c.do(ctx, http.MethodGet, "app.bsky.graph.getFollowers", sess, query, nil, &body); err != nil {
		return nil, "", err
	}
	return body.Followers, body.Cursor, nil
}

// GetConvoForMembers resolves (or creates) the one-to-one conversation for
// the given member DIDs and returns its id.
func (c *Client) GetConvoForMembers(ctx context.Context, sess *Session, members []string) (string, error) {
	var body struct {
		Convo struct {
			ID string `json:"id"`
		} `json:"convo"`
	}
	err := c.do(ctx, http.MethodGet, "chat.bsky.convo.getConvoForMembers", sess,
		map[string][]string{"members": members}, nil, &body)
	if err != nil {
		return "", err
	}
	if body.Convo.ID == "" {
		return "", &ValidationError{Op: "getConvoForMembers", Err: fmt.Errorf("empty convo id")}
	}
	return body.Convo.ID, nil
}

// SendMessage delivers one message into a conversation.
func (c *Client) SendMessage(ctx context.Context, sess *Session, convoID, text string, facets []Facet) error {
	msg := map[string]any{"text": text}
	if len(facets) > 0 {
		msg["facets"] = facets
	}
	return c.do(ctx, http.MethodPost, "chat.bsky.convo.sendMessage", sess, nil,
		map[string]any{"convoId": convoID, "message": msg}, nil)
}
