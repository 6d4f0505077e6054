package bsky_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/allforeco/echochamber/bsky"
	"github.com/allforeco/echochamber/testutil"
)

func TestLogin(t *testing.T) {
	m := testutil.NewMockBskyServer(t)
	m.MockSession("did:plc:bot", "chamber.example.com")
	c := &bsky.Client{Host: m.URL}
	sess, err := c.Login(context.Background(), "bot@example.com", "app-pass")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if sess.DID != "did:plc:bot" || sess.Handle != "chamber.example.com" || sess.AccessJWT == "" {
		t.Errorf("unexpected session: %+v", sess)
	}
}

func TestLoginRejected(t *testing.T) {
	m := testutil.NewMockBskyServer(t)
	m.MockError("com.atproto.server.createSession", http.StatusUnauthorized, "AuthenticationRequired", "Invalid identifier or password")
	c := &bsky.Client{Host: m.URL}
	_, err := c.Login(context.Background(), "bot@example.com", "wrong")
	if err == nil {
		t.Fatal("Login() succeeded with bad credentials")
	}
	var apiErr *bsky.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Login() error = %v, want *APIError", err)
	}
	if apiErr.Code != "AuthenticationRequired" || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestResolveHandle(t *testing.T) {
	m := testutil.NewMockBskyServer(t)
	m.MockResolveHandle("did:plc:bot")
	c := &bsky.Client{Host: m.URL}
	did, err := c.ResolveHandle(context.Background(), "chamber.example.com")
	if err != nil {
		t.Fatalf("ResolveHandle() error: %v", err)
	}
	if did != "did:plc:bot" {
		t.Errorf("ResolveHandle() = %q, want %q", did, "did:plc:bot")
	}
}

func TestGetLogDecodesEvents(t *testing.T) {
	m := testutil.NewMockBskyServer(t)
	m.MockLog("cursor-2", []map[string]any{
		{"$type": "chat.bsky.convo.defs#logBeginConvo", "convoId": "c1"},
		testutil.MessageEvent("did:plc:a", "hello"),
	})
	c := &bsky.Client{Host: m.URL}
	sess := &bsky.Session{AccessJWT: "jwt"}
	page, err := c.GetLog(context.Background(), sess, "cursor-1")
	if err != nil {
		t.Fatalf("GetLog() error: %v", err)
	}
	if page.Cursor != "cursor-2" {
		t.Errorf("Cursor = %q, want %q", page.Cursor, "cursor-2")
	}
	if len(page.Events) != 2 {
		t.Fatalf("Events = %+v, want 2", page.Events)
	}
	if page.Events[0].Kind != bsky.EventBeginConvo {
		t.Errorf("Events[0].Kind = %v, want begin-convo", page.Events[0].Kind)
	}
	if page.Events[1].Kind != bsky.EventMessage || page.Events[1].Message.Text != "hello" {
		t.Errorf("Events[1] = %+v, want message 'hello'", page.Events[1])
	}
}

func TestGetLogExpiredToken(t *testing.T) {
	m := testutil.NewMockBskyServer(t)
	m.MockError("chat.bsky.convo.getLog", http.StatusBadRequest, "ExpiredToken", "Token has expired")
	c := &bsky.Client{Host: m.URL}
	_, err := c.GetLog(context.Background(), &bsky.Session{AccessJWT: "stale"}, "")
	if err == nil {
		t.Fatal("GetLog() succeeded with expired token")
	}
	if got := bsky.Classify(err); got != bsky.FailureExpiredToken {
		t.Errorf("Classify() = %v, want expired-token", got)
	}
}

func TestListFollowersPagination(t *testing.T) {
	m := testutil.NewMockBskyServer(t)
	m.MockFollowersPage(map[string]map[string]any{
		"": {
			"followers": []map[string]string{
				{"did": "did:plc:a", "handle": "a.example.com", "displayName": "Alice"},
			},
			"cursor": "page-2",
		},
		"page-2": {
			"followers": []map[string]string{
				{"did": "did:plc:b", "handle": "b.example.com", "displayName": ""},
			},
		},
	})
	c := &bsky.Client{Host: m.URL}
	sess := &bsky.Session{AccessJWT: "jwt"}

	first, cursor, err := c.ListFollowers(context.Background(), sess, "chamber.example.com", "")
	if err != nil {
		t.Fatalf("ListFollowers() error: %v", err)
	}
	if len(first) != 1 || first[0].DID != "did:plc:a" || cursor != "page-2" {
		t.Fatalf("first page = %+v cursor %q", first, cursor)
	}
	if first[0].Name() != "Alice" {
		t.Errorf("Name() = %q, want display name", first[0].Name())
	}

	second, cursor, err := c.ListFollowers(context.Background(), sess, "chamber.example.com", cursor)
	if err != nil {
		t.Fatalf("ListFollowers() error: %v", err)
	}
	if len(second) != 1 || cursor != "" {
		t.Fatalf("second page = %+v cursor %q", second, cursor)
	}
	if second[0].Name() != "b.example.com" {
		t.Errorf("Name() = %q, want handle fallback", second[0].Name())
	}
}

func TestSendMessageAndConvoLookup(t *testing.T) {
	m := testutil.NewMockBskyServer(t)
	m.Handle("chat.bsky.convo.getConvoForMembers", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query()["members"]; len(got) != 2 {
			t.Errorf("members query = %v, want 2 entries", got)
		}
		if got := r.Header.Get("Atproto-Proxy"); got == "" {
			t.Error("chat call missing Atproto-Proxy header")
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"convo":{"id":"convo-7"}}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	})
	var sent bool
	m.Handle("chat.bsky.convo.sendMessage", func(w http.ResponseWriter, r *http.Request) {
		sent = true
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	})
	c := &bsky.Client{Host: m.URL}
	sess := &bsky.Session{DID: "did:plc:bot", AccessJWT: "jwt"}

	convoID, err := c.GetConvoForMembers(context.Background(), sess, []string{"did:plc:bot", "did:plc:a"})
	if err != nil {
		t.Fatalf("GetConvoForMembers() error: %v", err)
	}
	if convoID != "convo-7" {
		t.Errorf("convo id = %q, want %q", convoID, "convo-7")
	}
	if err := c.SendMessage(context.Background(), sess, convoID, "alice: hi", nil); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if !sent {
		t.Error("sendMessage endpoint was not called")
	}
}
