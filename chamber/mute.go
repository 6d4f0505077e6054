package chamber

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// MuteRegistry is the persisted set of permanently excluded account ids.
// The backing file is both data and audit log: one id per non-comment line,
// appended to on every mute, never rewritten. Lines starting with '#' and
// blank lines are ignored on load.
type MuteRegistry struct {
	path string

	mu  sync.Mutex
	ids map[string]struct{}
}

// LoadMuteRegistry reads the mute file at path. A missing file yields an
// empty registry; it is created on the first mute.
func LoadMuteRegistry(path string) (*MuteRegistry, error) {
	r := &MuteRegistry{path: path, ids: make(map[string]struct{})}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("open mute file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close mute file", slog.Any("err", err))
		}
	}()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r.ids[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mute file: %w", err)
	}
	return r, nil
}

// Muted reports whether the id is excluded.
func (r *MuteRegistry) Muted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

// Mute adds target to the registry and appends an audit record (issuer and
// timestamp as a comment, then the bare id) to the file.
func (r *MuteRegistry) Mute(target, issuer string) error {
	r.mu.Lock()
	r.ids[target] = struct{}{}
	r.mu.Unlock()
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open mute file for append: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close mute file", slog.Any("err", err))
		}
	}()
	record := fmt.Sprintf("# User %s muted %s on %s\n%s\n", issuer, target, time.Now().Format(time.ANSIC), target)
	if _, err := f.WriteString(record); err != nil {
		return fmt.Errorf("append mute record: %w", err)
	}
	slog.Info("muted user", slog.String("target", target), slog.String("issuer", issuer))
	return nil
}

// List returns the muted ids in sorted order.
func (r *MuteRegistry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
