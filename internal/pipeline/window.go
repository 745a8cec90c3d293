package pipeline

import (
	"sync"
	"time"

	"github.com/luckygarg1810/exam-platform/internal/metrics"
	"github.com/luckygarg1810/exam-platform/internal/risk"
)

// windowEntry is one behavior event in a session's rolling history.
type windowEntry struct {
	eventType string
	atSeconds float64
}

// SessionWindows tracks a bounded rolling event history per session. Sessions
// are created on first event and retained for the process lifetime; memory is
// bounded by the per-session capacity. One mutex covers the map and every
// session ring, matching the single-writer behavior consumer.
type SessionWindows struct {
	mu       sync.Mutex
	sessions map[string][]windowEntry
	capacity int
	window   time.Duration
}

func NewSessionWindows(capacity int, window time.Duration) *SessionWindows {
	return &SessionWindows{
		sessions: make(map[string][]windowEntry),
		capacity: capacity,
		window:   window,
	}
}

// Observe appends one event to the session's history and returns the feature
// tallies over entries within the trailing window of the event's timestamp.
func (w *SessionWindows) Observe(sessionID, eventType string, atSeconds float64) risk.BehaviorFeatures {
	w.mu.Lock()
	defer w.mu.Unlock()

	history, exists := w.sessions[sessionID]
	if !exists {
		metrics.BehaviorSessions.Set(float64(len(w.sessions) + 1))
	}

	history = append(history, windowEntry{eventType: eventType, atSeconds: atSeconds})
	if len(history) > w.capacity {
		history = history[len(history)-w.capacity:]
	}
	w.sessions[sessionID] = history

	return w.computeFeatures(history, atSeconds)
}

// SessionCount reports how many sessions are currently tracked.
func (w *SessionWindows) SessionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// computeFeatures tallies recognized event labels over entries no older than
// the window relative to the incoming timestamp. Unknown labels count only
// toward the overall rate. Caller holds the lock.
func (w *SessionWindows) computeFeatures(history []windowEntry, nowSeconds float64) risk.BehaviorFeatures {
	cutoff := nowSeconds - w.window.Seconds()

	var features risk.BehaviorFeatures
	recent := 0
	for _, e := range history {
		if e.atSeconds < cutoff {
			continue
		}
		recent++
		switch e.eventType {
		case "TAB_SWITCH":
			features.TabSwitches++
		case "COPY_PASTE":
			features.CopyPasteCount++
		case "CONTEXT_MENU":
			features.ContextMenuCount++
		case "FULLSCREEN_EXIT":
			features.FullscreenExits++
		case "FOCUS_LOSS":
			features.FocusLossCount++
		}
	}

	if recent > 0 {
		features.EventRatePerMin = float64(recent) / (w.window.Seconds() / 60.0)
	}
	return features
}
