package infrastructure

import (
	"sync"
	"time"
)

// promptSession tracks decisions on a single prompt message
type promptSession struct {
	isProcessing bool
	lastClick    time.Time
}

// DecisionGuard debounces Correct / Not correct clicks per prompt message.
// A nil guard allows every click.
type DecisionGuard struct {
	window   time.Duration
	sessions map[string]*promptSession
	mu       sync.Mutex
	now      func() time.Time
}

// NewDecisionGuard returns nil when window is zero so the guard stays off.
func NewDecisionGuard(window time.Duration) *DecisionGuard {
	if window <= 0 {
		return nil
	}
	return &DecisionGuard{
		window:   window,
		sessions: make(map[string]*promptSession),
		now:      time.Now,
	}
}

// Begin reports whether a decision on the prompt identified by channel and ts
// may proceed. When it may, release must be called once the decision is done.
// A release with succeeded false forgets the click so a retry is allowed.
func (g *DecisionGuard) Begin(channel, ts string) (release func(succeeded bool), ok bool) {
	if g == nil {
		return func(bool) {}, true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.evictLocked(now)

	key := channel + "/" + ts
	session, exists := g.sessions[key]
	if !exists {
		session = &promptSession{}
		g.sessions[key] = session
	}

	// Deny while in flight or inside the debounce window
	if session.isProcessing {
		return nil, false
	}
	if !session.lastClick.IsZero() && now.Sub(session.lastClick) < g.window {
		return nil, false
	}

	previous := session.lastClick
	session.isProcessing = true
	session.lastClick = now

	var once sync.Once
	return func(succeeded bool) {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			session.isProcessing = false
			if !succeeded {
				session.lastClick = previous
			}
		})
	}, true
}

func (g *DecisionGuard) evictLocked(now time.Time) {
	for key, session := range g.sessions {
		if !session.isProcessing && now.Sub(session.lastClick) >= g.window {
			delete(g.sessions, key)
		}
	}
}
