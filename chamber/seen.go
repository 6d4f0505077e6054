package chamber

// seenSet remembers the most recent message ids so redelivered log events
// (typical after a reconnect resets the cursor) are suppressed exactly once.
// It is a fixed-capacity ring plus a lookup map: inserting beyond capacity
// evicts the oldest id. Sized well beyond the platform's redelivery window.
type seenSet struct {
	capacity int
	ring     []string
	next     int
	ids      map[string]struct{}
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = 4096
	}
	return &seenSet{
		capacity: capacity,
		ring:     make([]string, capacity),
		ids:      make(map[string]struct{}, capacity),
	}
}

func (s *seenSet) contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(id string) {
	if s.contains(id) {
		return
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % s.capacity
}

func (s *seenSet) len() int { return len(s.ids) }
