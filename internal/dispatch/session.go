package dispatch

import "sort"

// Session tracks which predictions were delivered during one run.
type Session struct {
	sent map[int64]struct{}
}

func NewSession() *Session { return &Session{sent: map[int64]struct{}{}} }

func (s *Session) Reset() { clear(s.sent) }

func (s *Session) MarkSent(id int64) { s.sent[id] = struct{}{} }

func (s *Session) Sent() map[int64]struct{} { return s.sent }

func (s *Session) Len() int { return len(s.sent) }

// IDs returns the delivered prediction ids in ascending order.
func (s *Session) IDs() []int64 {
	out := make([]int64, 0, len(s.sent))
	for id := range s.sent {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
