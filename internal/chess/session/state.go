package session

import (
	"fmt"
	"time"

	"github.com/park285/cheese-board/internal/chess/clock"
	"github.com/park285/cheese-board/internal/chess/rules"
)

// State is an immutable copy of a session.
type State struct {
	ID           string         `json:"id"`
	Config       Config         `json:"config"`
	Position     rules.Position `json:"position"`
	LivePosition rules.Position `json:"live_position"`
	History      []MoveRecord   `json:"history"`
	Cursor       int            `json:"cursor"`
	Turn         rules.Color    `json:"turn"`
	Active       bool           `json:"active"`
	Result       Result         `json:"result"`
	InCheck      bool           `json:"in_check"`
	KingSquare   string         `json:"king_square,omitempty"`
	LastMove     *MoveRecord    `json:"last_move,omitempty"`
	Material     rules.Material `json:"material"`
	Clock        clock.State    `json:"clock"`
	Version      uint64         `json:"version"`
	StartedAt    time.Time      `json:"started_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// AtLiveEnd reports whether the shown position is the newest one.
func (s State) AtLiveEnd() bool { return s.Cursor == len(s.History)-1 }

// SANMoves lists the SAN of the whole live history.
func (s State) SANMoves() []string {
	out := make([]string, len(s.History))
	for i, rec := range s.History {
		out[i] = rec.SAN
	}
	return out
}

func (s State) UCIMoves() []string {
	out := make([]string, len(s.History))
	for i, rec := range s.History {
		out[i] = rec.UCI
	}
	return out
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	st := State{
		ID:           s.id,
		Config:       s.configLocked(),
		Position:     s.position,
		LivePosition: s.livePositionLocked(),
		History:      append([]MoveRecord(nil), s.history...),
		Cursor:       s.cursor,
		Turn:         s.position.Turn(),
		Active:       s.active,
		Result:       s.result,
		InCheck:      s.status.InCheck,
		Material:     s.status.Material,
		Clock:        s.clock.State(),
		Version:      s.version,
		StartedAt:    s.startedAt,
		UpdatedAt:    s.updatedAt,
	}
	if st.InCheck {
		st.KingSquare = s.status.KingSquare
	}
	if s.cursor >= 0 {
		last := s.history[s.cursor]
		st.LastMove = &last
	}
	return st
}

func (s *Session) configLocked() Config {
	cfg := s.cfg
	if cfg.Timer != nil {
		timer := *cfg.Timer
		cfg.Timer = &timer
	}
	return cfg
}

// Watcher is a subscription to session changes. Signals coalesce: a receiver
// that falls behind sees one pending signal, then reads State for the latest.
type Watcher struct {
	s  *Session
	ch chan struct{}
}

func (s *Session) Watch() *Watcher {
	w := &Watcher{s: s, ch: make(chan struct{}, 1)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(w.ch)
		return w
	}
	s.watchers[w] = struct{}{}
	return w
}

// C is closed when the watcher or the session is closed.
func (w *Watcher) C() <-chan struct{} { return w.ch }

func (w *Watcher) Close() {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if _, ok := w.s.watchers[w]; !ok {
		return
	}
	delete(w.s.watchers, w)
	close(w.ch)
}

// Snapshot is the persisted form of a session. Positions are rebuilt by replay.
type Snapshot struct {
	ID         string      `json:"id"`
	Config     Config      `json:"config"`
	Moves      []string    `json:"moves"`
	Timestamps []time.Time `json:"timestamps,omitempty"`
	Cursor     int         `json:"cursor"`
	Active     bool        `json:"active"`
	Result     Result      `json:"result"`
	Clock      clock.State `json:"clock"`
	StartedAt  time.Time   `json:"started_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Version    uint64      `json:"version"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:         s.id,
		Config:     s.configLocked(),
		Moves:      make([]string, len(s.history)),
		Timestamps: make([]time.Time, len(s.history)),
		Cursor:     s.cursor,
		Active:     s.active,
		Result:     s.result,
		Clock:      s.clock.State(),
		StartedAt:  s.startedAt,
		UpdatedAt:  s.updatedAt,
		Version:    s.version,
	}
	for i, rec := range s.history {
		snap.Moves[i] = rec.UCI
		snap.Timestamps[i] = rec.Timestamp
	}
	return snap
}

// Restore rebuilds a session from a snapshot by replaying its moves.
func Restore(oracle rules.Oracle, snap Snapshot, opts ...Option) (*Session, error) {
	s, err := New(oracle, snap.Config, append([]Option{WithID(snap.ID)}, opts...)...)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.initial
	history := make([]MoveRecord, 0, len(snap.Moves))
	for i, raw := range snap.Moves {
		mv, err := rules.ParseMove(raw)
		if err != nil {
			return nil, fmt.Errorf("restore ply %d: %w", i, err)
		}
		applied, err := oracle.Apply(pos, mv)
		if err != nil {
			return nil, fmt.Errorf("restore ply %d (%s): %w", i, raw, err)
		}
		rec := MoveRecord{
			Ply:       i,
			Side:      pos.Turn(),
			From:      mv.From,
			To:        mv.To,
			Promotion: mv.Promotion,
			UCI:       mv.String(),
			SAN:       applied.SAN,
			Position:  applied.Position,
			Check:     applied.Check,
			Capture:   applied.Capture,
		}
		if i < len(snap.Timestamps) {
			rec.Timestamp = snap.Timestamps[i]
		}
		history = append(history, rec)
		pos = applied.Position
	}

	cursor := snap.Cursor
	if cursor < -1 || cursor > len(history)-1 {
		cursor = len(history) - 1
	}
	shown := s.initial
	if cursor >= 0 {
		shown = history[cursor].Position
	}
	status, err := oracle.Status(shown)
	if err != nil {
		return nil, fmt.Errorf("restore status: %w", err)
	}

	s.history = history
	s.cursor = cursor
	s.position = shown
	s.status = status
	s.active = snap.Active
	s.result = snap.Result
	if s.result.Outcome == "" {
		s.result.Outcome = rules.NoOutcome
	}
	if snap.Clock.Enabled {
		s.clock.Set(snap.Clock.White, snap.Clock.Black)
	}
	if !snap.StartedAt.IsZero() {
		s.startedAt = snap.StartedAt
	}
	if !snap.UpdatedAt.IsZero() {
		s.updatedAt = snap.UpdatedAt
	}
	if snap.Version > s.version {
		s.version = snap.Version
	}
	return s, nil
}
