// Package stream runs the camera loop that feeds the MJPEG stream and keeps
// the current emotion for the API and websocket clients.
package stream

import (
	"sync"
	"time"
)

// InitialEmotion is reported before the first classified frame.
const InitialEmotion = "Neutral"

// Snapshot is the current emotion as served by /api/emotion.
type Snapshot struct {
	Emotion    string    `json:"emotion"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// State holds the latest emotion seen by the stream loop. Subscribers are
// notified on every change; slow subscribers only see the latest value.
type State struct {
	mu      sync.RWMutex
	current Snapshot
	subs    map[uint64]chan Snapshot
	nextID  uint64
	now     func() time.Time
}

// NewState returns a State holding InitialEmotion with zero confidence.
func NewState() *State {
	s := &State{
		subs: make(map[uint64]chan Snapshot),
		now:  time.Now,
	}
	s.current = Snapshot{Emotion: InitialEmotion, Timestamp: s.now()}
	return s
}

// Get returns the current snapshot.
func (s *State) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set stores a new emotion. Subscribers are notified only when the emotion
// or the confidence changed.
func (s *State) Set(emotion string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.current.Emotion != emotion || s.current.Confidence != confidence
	s.current = Snapshot{Emotion: emotion, Confidence: confidence, Timestamp: s.now()}
	if !changed {
		return
	}
	for _, ch := range s.subs {
		publishLatest(ch, s.current)
	}
}

// Subscribe returns a channel of snapshots and a cancel func that must be
// called to release it. The channel is closed by cancel.
func (s *State) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (s *State) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// publishLatest replaces any unread snapshot in ch with snap.
func publishLatest(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
