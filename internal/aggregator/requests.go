package aggregator

import (
	"sort"

	"pagescope/internal/event"
)

type trackedRequest struct {
	req event.NetworkRequest
	seq uint64
}

// requestStore holds at most capacity requests keyed by id. When full, the
// entry with the oldest request time (first inserted on ties) is evicted.
type requestStore struct {
	byID     map[string]*trackedRequest
	capacity int
	seq      uint64
}

func newRequestStore(capacity int) *requestStore {
	if capacity < 1 {
		capacity = 1
	}
	return &requestStore{byID: make(map[string]*trackedRequest), capacity: capacity}
}

func (s *requestStore) len() int { return len(s.byID) }

func (s *requestStore) has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// insert adds a pending request and returns the id it evicted, if any.
func (s *requestStore) insert(req event.NetworkRequest) (evicted string) {
	if len(s.byID) >= s.capacity {
		evicted = s.oldestID()
		delete(s.byID, evicted)
	}
	s.seq++
	req.Status = event.StatusPending
	s.byID[req.ID] = &trackedRequest{req: req, seq: s.seq}
	return evicted
}

func (s *requestStore) oldestID() string {
	var oldest *trackedRequest
	for _, t := range s.byID {
		if oldest == nil || older(t, oldest) {
			oldest = t
		}
	}
	if oldest == nil {
		return ""
	}
	return oldest.req.ID
}

func older(a, b *trackedRequest) bool {
	if !a.req.RequestTime.Equal(b.req.RequestTime) {
		return a.req.RequestTime.Before(b.req.RequestTime)
	}
	return a.seq < b.seq
}

// complete applies o to a pending request. It reports false when the id is
// unknown or already terminal.
func (s *requestStore) complete(id string, o event.Outcome) bool {
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	return t.req.Apply(o)
}

func (s *requestStore) get(id string) (event.NetworkRequest, bool) {
	t, ok := s.byID[id]
	if !ok {
		return event.NetworkRequest{}, false
	}
	return t.req.Clone(), true
}

func (s *requestStore) sorted() []*trackedRequest {
	out := make([]*trackedRequest, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return older(out[i], out[j]) })
	return out
}

// list returns copies ordered by request time, oldest first.
func (s *requestStore) list() []event.NetworkRequest {
	sorted := s.sorted()
	out := make([]event.NetworkRequest, len(sorted))
	for i, t := range sorted {
		out[i] = t.req.Clone()
	}
	return out
}

func (s *requestStore) pending() int {
	n := 0
	for _, t := range s.byID {
		if !t.req.Status.Terminal() {
			n++
		}
	}
	return n
}

// keepNewest retains the n most recent requests by request time, pending
// ones included, and returns how many were removed.
func (s *requestStore) keepNewest(n int) int {
	if n < 0 {
		n = 0
	}
	sorted := s.sorted()
	if len(sorted) <= n {
		return 0
	}
	drop := sorted[:len(sorted)-n]
	for _, t := range drop {
		delete(s.byID, t.req.ID)
	}
	return len(drop)
}

func (s *requestStore) reset() {
	s.byID = make(map[string]*trackedRequest)
}
