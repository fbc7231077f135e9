package session

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultCandidateLimit caps how many candidates wait for a remote
// description.
const DefaultCandidateLimit = 256

// CandidateQueue buffers candidates that arrive before the remote
// description they depend on. Entries leave in arrival order, exactly once.
type CandidateQueue struct {
	mu      sync.Mutex
	items   []json.RawMessage
	limit   int
	dropped int
}

func NewCandidateQueue(limit int) *CandidateQueue {
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	return &CandidateQueue{limit: limit}
}

// Enqueue appends a candidate. It reports false when the queue is full and
// the candidate was dropped.
func (q *CandidateQueue) Enqueue(candidate json.RawMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.limit {
		q.dropped++
		log.Warn().Int("limit", q.limit).Int("dropped", q.dropped).Msg("Candidate queue full, dropping candidate")
		return false
	}
	q.items = append(q.items, candidate)
	return true
}

// DrainIfReady hands over every queued candidate when ready is true.
// Candidates enqueued after the drain stay queued for the next one.
func (q *CandidateQueue) DrainIfReady(ready bool) []json.RawMessage {
	if !ready {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

func (q *CandidateQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *CandidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped counts candidates refused because of the cap.
func (q *CandidateQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
