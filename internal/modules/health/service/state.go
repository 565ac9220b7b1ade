package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// State tracks pass outcomes for the health endpoints. It becomes ready
// after the first successful pass.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	passes   atomic.Int64
	failures atomic.Int64

	mu       sync.RWMutex
	lastPass time.Time
	lastErr  string
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

func (s *State) ObservePass(at time.Time, err error) {
	s.passes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPass = at
	if err != nil {
		s.failures.Add(1)
		s.lastErr = err.Error()
		return
	}
	s.lastErr = ""
	s.ready.Store(true)
}

func (s *State) Ready() bool { return s.ready.Load() }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

type Snapshot struct {
	Ready        bool   `json:"ready"`
	UptimeSec    int64  `json:"uptimeSec"`
	Passes       int64  `json:"passes"`
	Failures     int64  `json:"failures"`
	LastPassUnix int64  `json:"lastPassUnix"`
	LastError    string `json:"lastError,omitempty"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Ready:     s.Ready(),
		UptimeSec: int64(s.Uptime().Seconds()),
		Passes:    s.passes.Load(),
		Failures:  s.failures.Load(),
		LastError: s.lastErr,
	}
	if !s.lastPass.IsZero() {
		snap.LastPassUnix = s.lastPass.Unix()
	}
	return snap
}
