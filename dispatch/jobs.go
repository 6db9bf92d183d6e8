package dispatch

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// JobState is the lifecycle phase of a bulk job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
)

// JobStatus is a point-in-time snapshot of a bulk job's progress. Jobs live
// only in memory and disappear on process restart or store expiry.
type JobStatus struct {
	ID         string     `json:"id"`
	State      JobState   `json:"state"`
	Total      int        `json:"total"`
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type jobEntry struct {
	key    string
	status JobStatus
	stored time.Time
}

// jobStore retains recent job snapshots with LRU eviction and TTL expiry, so
// callers can poll a job for a while after the drain loop finished without
// the store growing unbounded.
type jobStore struct {
	mu        sync.Mutex
	items     map[string]*list.Element
	evictList *list.List
	capacity  int
	ttl       time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
}

func newJobStore(capacity int, ttl time.Duration) *jobStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &jobStore{
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		capacity:  capacity,
		ttl:       ttl,
		ctx:       ctx,
		cancel:    cancel,
	}
	go s.startCleanup()
	return s
}

func (s *jobStore) put(status JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if element, exists := s.items[status.ID]; exists {
		s.evictList.MoveToFront(element)
		entry := element.Value.(*jobEntry)
		entry.status = status
		entry.stored = time.Now()
		return
	}

	element := s.evictList.PushFront(&jobEntry{
		key:    status.ID,
		status: status,
		stored: time.Now(),
	})
	s.items[status.ID] = element

	if s.evictList.Len() > s.capacity {
		s.evictElement(s.evictList.Back())
	}
}

func (s *jobStore) get(id string) (JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, exists := s.items[id]
	if !exists {
		return JobStatus{}, false
	}
	entry := element.Value.(*jobEntry)
	if s.ttl > 0 && time.Since(entry.stored) > s.ttl {
		s.evictElement(element)
		return JobStatus{}, false
	}
	s.evictList.MoveToFront(element)
	return entry.status, true
}

func (s *jobStore) evictElement(element *list.Element) {
	s.evictList.Remove(element)
	entry := element.Value.(*jobEntry)
	delete(s.items, entry.key)
}

func (s *jobStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictList.Len()
}

func (s *jobStore) stop() {
	s.cancel()
}

func (s *jobStore) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *jobStore) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, element := range s.items {
		entry := element.Value.(*jobEntry)
		if s.ttl > 0 && now.Sub(entry.stored) > s.ttl {
			s.evictElement(element)
		}
	}
}
