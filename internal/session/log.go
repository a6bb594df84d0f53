// log.go
package session

import (
	"sync"

	"github.com/Acidburn1824/smart-heating/internal/model"
)

// Log is a zone's bounded session sequence: capacity MaxSessions, oldest
// evicted first. Readers get copies, so appends never race a recompute.
type Log struct {
	mu       sync.RWMutex
	sessions []model.HeatingSession
}

func NewLog() *Log { return &Log{} }

// Restore replaces the contents from persisted state, keeping only the
// newest MaxSessions entries.
func (l *Log) Restore(sessions []model.HeatingSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(sessions) > MaxSessions {
		sessions = sessions[len(sessions)-MaxSessions:]
	}
	l.sessions = append([]model.HeatingSession(nil), sessions...)
}

// Append adds a closed session, evicting the oldest on overflow.
func (l *Log) Append(s model.HeatingSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = append(l.sessions, s)
	if len(l.sessions) > MaxSessions {
		l.sessions = l.sessions[len(l.sessions)-MaxSessions:]
	}
}

// Snapshot returns a consistent copy of the sequence.
func (l *Log) Snapshot() []model.HeatingSession {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.HeatingSession(nil), l.sessions...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions)
}

// Reset clears the sequence, reverting the zone to learning.
func (l *Log) Reset() {
	l.mu.Lock()
	l.sessions = nil
	l.mu.Unlock()
}
