package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/chess/clock"
	"github.com/park285/cheese-board/internal/chess/rules"
)

var (
	ErrIllegalMove          = rules.ErrIllegalMove
	ErrNavigationOutOfRange = errors.New("navigation index out of range")
	ErrUndoUnavailable      = errors.New("undo not available")
	ErrGameOver             = errors.New("game is over")
	ErrStalePosition        = errors.New("session changed since request")
	ErrClosed               = errors.New("session closed")
)

const fivefoldRepetition = 5

type Mode string

const (
	ModeLocal    Mode = "local"
	ModeVsEngine Mode = "vs-automated"
	ModeAnalysis Mode = "analysis"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLocal:
		return ModeLocal, nil
	case ModeVsEngine, "vs-engine", "ai":
		return ModeVsEngine, nil
	case ModeAnalysis:
		return ModeAnalysis, nil
	default:
		return "", fmt.Errorf("unknown session mode: %q", s)
	}
}

type Timer struct {
	Initial   time.Duration `json:"initial"`
	Increment time.Duration `json:"increment"`
}

// TimeControl renders the PGN form, e.g. "600+5".
func (t *Timer) TimeControl() string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%d+%d", int(t.Initial.Seconds()), int(t.Increment.Seconds()))
}

type Config struct {
	Mode       Mode           `json:"mode"`
	Timer      *Timer         `json:"timer,omitempty"`
	Difficulty string         `json:"difficulty,omitempty"`
	PlayerSide rules.Color    `json:"player_side"`
	Initial    rules.Position `json:"initial,omitempty"`
}

// AutomatedSide reports which side the engine plays, if any.
func (c Config) AutomatedSide() (rules.Color, bool) {
	if c.Mode != ModeVsEngine {
		return rules.White, false
	}
	return c.PlayerSide.Opponent(), true
}

func (c Config) initialPosition() rules.Position {
	if strings.TrimSpace(string(c.Initial)) == "" {
		return rules.StartingPosition
	}
	return rules.Position(strings.TrimSpace(string(c.Initial)))
}

type MoveRecord struct {
	Ply       int            `json:"ply"`
	Side      rules.Color    `json:"side"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Promotion string         `json:"promotion,omitempty"`
	UCI       string         `json:"uci"`
	SAN       string         `json:"san"`
	Position  rules.Position `json:"position"`
	Check     bool           `json:"check,omitempty"`
	Capture   bool           `json:"capture,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (r MoveRecord) Move() rules.Move {
	return rules.Move{From: r.From, To: r.To, Promotion: r.Promotion}
}

type Result struct {
	Outcome rules.Outcome `json:"outcome"`
	Method  rules.Method  `json:"method,omitempty"`
}

func (r Result) byBoard() bool {
	switch r.Method {
	case rules.Checkmate, rules.Stalemate, rules.InsufficientMaterial, rules.SeventyFiveMoveRule, rules.FivefoldRepetition:
		return true
	}
	return false
}

type Option func(*Session)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithID(id string) Option {
	return func(s *Session) {
		if strings.TrimSpace(id) != "" {
			s.id = strings.TrimSpace(id)
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session owns one game. Every mutation runs under mu; values handed out are copies.
type Session struct {
	mu     sync.Mutex
	id     string
	oracle rules.Oracle
	logger *zap.Logger
	now    func() time.Time

	cfg      Config
	initial  rules.Position
	history  []MoveRecord
	cursor   int
	position rules.Position
	status   rules.Status
	clock    *clock.Clock
	active   bool
	result   Result
	version  uint64

	startedAt time.Time
	updatedAt time.Time

	closed   bool
	watchers map[*Watcher]struct{}
}

func New(oracle rules.Oracle, cfg Config, opts ...Option) (*Session, error) {
	if oracle == nil {
		return nil, fmt.Errorf("session requires a legality oracle")
	}
	s := &Session{
		oracle:   oracle,
		logger:   zap.NewNop(),
		now:      time.Now,
		watchers: make(map[*Watcher]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if err := s.NewGame(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// NewGame resets the session to the configured start.
func (s *Session) NewGame(cfg Config) error {
	if cfg.Mode == "" {
		cfg.Mode = ModeLocal
	}
	initial := cfg.initialPosition()
	status, err := s.oracle.Status(initial)
	if err != nil {
		return fmt.Errorf("initial position: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.cfg = cfg
	s.initial = initial
	s.history = nil
	s.cursor = -1
	s.position = initial
	s.status = status
	if cfg.Timer != nil {
		s.clock = clock.New(cfg.Timer.Initial, cfg.Timer.Increment)
	} else {
		s.clock = clock.Disabled()
	}
	s.active = true
	s.result = Result{Outcome: rules.NoOutcome}
	if status.Over() {
		s.active = false
		s.result = Result{Outcome: status.Outcome, Method: status.Method}
	}
	s.startedAt = s.now()
	s.updatedAt = s.startedAt
	s.bumpLocked()

	s.logger.Debug("session_new_game",
		zap.String("session_id", s.id),
		zap.String("mode", string(cfg.Mode)),
		zap.Bool("timed", s.clock.Enabled()),
	)
	return nil
}

func (s *Session) ApplyMove(from, to, promotion string) (MoveRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(from, to, promotion)
}

// ApplyMoveAt applies the move only if nothing changed since version.
func (s *Session) ApplyMoveAt(version uint64, from, to, promotion string) (MoveRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		return MoveRecord{}, ErrStalePosition
	}
	return s.applyLocked(from, to, promotion)
}

func (s *Session) applyLocked(from, to, promotion string) (MoveRecord, error) {
	if s.closed {
		return MoveRecord{}, ErrClosed
	}
	if !s.active {
		return MoveRecord{}, ErrGameOver
	}
	mv, err := rules.NewMove(from, to, promotion)
	if err != nil {
		return MoveRecord{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	applied, err := s.oracle.Apply(s.position, mv)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			return MoveRecord{}, err
		}
		return MoveRecord{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	status, err := s.oracle.Status(applied.Position)
	if err != nil {
		return MoveRecord{}, fmt.Errorf("status after %s: %w", mv, err)
	}

	mover := s.position.Turn()
	now := s.now()
	rec := MoveRecord{
		Ply:       s.cursor + 1,
		Side:      mover,
		From:      mv.From,
		To:        mv.To,
		Promotion: mv.Promotion,
		UCI:       mv.String(),
		SAN:       applied.SAN,
		Position:  applied.Position,
		Check:     applied.Check,
		Capture:   applied.Capture,
		Timestamp: now,
	}

	// moving from a reviewed position drops the abandoned line
	kept := make([]MoveRecord, s.cursor+1, s.cursor+2)
	copy(kept, s.history[:s.cursor+1])
	s.history = append(kept, rec)
	s.cursor = len(s.history) - 1
	s.position = applied.Position
	s.status = status
	s.clock.ApplyIncrement(mover)

	switch {
	case status.Over():
		s.finishLocked(Result{Outcome: status.Outcome, Method: status.Method})
	case s.repetitionsLocked(applied.Position) >= fivefoldRepetition:
		s.finishLocked(Result{Outcome: rules.Draw, Method: rules.FivefoldRepetition})
	}
	s.updatedAt = now
	s.bumpLocked()

	s.logger.Debug("session_move",
		zap.String("session_id", s.id),
		zap.String("uci", rec.UCI),
		zap.String("san", rec.SAN),
		zap.Int("ply", rec.Ply),
		zap.Bool("active", s.active),
	)
	return rec, nil
}

// UndoLastMove retracts the newest move. Only valid at the live end of history.
func (s *Session) UndoLastMove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(s.history) == 0 {
		return nil
	}
	if s.cursor != len(s.history)-1 {
		return ErrUndoUnavailable
	}
	if !s.active && !s.result.byBoard() {
		return ErrGameOver
	}

	prev := s.initial
	if len(s.history) > 1 {
		prev = s.history[len(s.history)-2].Position
	}
	status, err := s.oracle.Status(prev)
	if err != nil {
		return fmt.Errorf("status after undo: %w", err)
	}
	s.history = append([]MoveRecord(nil), s.history[:len(s.history)-1]...)
	s.cursor = len(s.history) - 1
	s.position = prev
	s.status = status
	if !s.active {
		s.active = true
		s.result = Result{Outcome: rules.NoOutcome}
	}
	s.updatedAt = s.now()
	s.bumpLocked()
	return nil
}

// NavigateToPly replays the initial position through history[0..index].
// History is left untouched; index -1 is the initial position.
func (s *Session) NavigateToPly(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if index < -1 || index > len(s.history)-1 {
		return fmt.Errorf("%w: %d not in [-1, %d]", ErrNavigationOutOfRange, index, len(s.history)-1)
	}
	pos, err := Replay(s.oracle, s.initial, s.history[:index+1])
	if err != nil {
		return err
	}
	status, err := s.oracle.Status(pos)
	if err != nil {
		return fmt.Errorf("status at ply %d: %w", index, err)
	}
	s.cursor = index
	s.position = pos
	s.status = status
	s.bumpLocked()
	return nil
}

func (s *Session) Resign(side rules.Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.active {
		return ErrGameOver
	}
	s.finishLocked(Result{Outcome: rules.WinFor(side.Opponent()), Method: rules.Resignation})
	s.updatedAt = s.now()
	s.bumpLocked()
	return nil
}

func (s *Session) DeclareDraw() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.active {
		return ErrGameOver
	}
	s.finishLocked(Result{Outcome: rules.Draw, Method: rules.Agreement})
	s.updatedAt = s.now()
	s.bumpLocked()
	return nil
}

// SelectableMoves returns destinations for the piece on square in the shown position.
func (s *Session) SelectableMoves(square string) ([]string, error) {
	s.mu.Lock()
	pos, active := s.position, s.active
	s.mu.Unlock()
	if !active {
		return nil, nil
	}
	return s.oracle.Destinations(pos, square)
}

func (s *Session) LegalMoves() ([]rules.Move, error) {
	s.mu.Lock()
	pos, active := s.position, s.active
	s.mu.Unlock()
	if !active {
		return nil, nil
	}
	return s.oracle.LegalMoves(pos)
}

// Tick charges elapsed time to the side to move in the live game and ends the
// game on expiry. It reports whether this tick ended the game.
func (s *Session) Tick(elapsed time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.active || !s.clock.Enabled() {
		return false
	}
	side := s.livePositionLocked().Turn()
	s.clock.Tick(side, elapsed)
	if !s.clock.IsExpired(side) {
		return false
	}
	s.finishLocked(Result{Outcome: rules.WinFor(side.Opponent()), Method: rules.Timeout})
	s.updatedAt = s.now()
	s.bumpLocked()
	s.logger.Info("session_timeout",
		zap.String("session_id", s.id),
		zap.String("flagged", side.String()),
	)
	return true
}

func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configLocked()
}

// Close ends every subscription. Later mutations fail with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for w := range s.watchers {
		delete(s.watchers, w)
		close(w.ch)
	}
}

func (s *Session) finishLocked(r Result) {
	s.active = false
	s.result = r
	s.logger.Info("session_finished",
		zap.String("session_id", s.id),
		zap.String("outcome", string(r.Outcome)),
		zap.String("method", string(r.Method)),
	)
}

func (s *Session) livePositionLocked() rules.Position {
	if len(s.history) == 0 {
		return s.initial
	}
	return s.history[len(s.history)-1].Position
}

func (s *Session) repetitionsLocked(pos rules.Position) int {
	key := pos.RepetitionKey()
	count := 0
	if s.initial.RepetitionKey() == key {
		count++
	}
	for _, rec := range s.history[:s.cursor+1] {
		if rec.Position.RepetitionKey() == key {
			count++
		}
	}
	return count
}

func (s *Session) bumpLocked() {
	s.version++
	for w := range s.watchers {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}

// Replay applies moves from initial and returns the resulting position.
func Replay(oracle rules.Oracle, initial rules.Position, moves []MoveRecord) (rules.Position, error) {
	pos := initial
	for i, rec := range moves {
		applied, err := oracle.Apply(pos, rec.Move())
		if err != nil {
			return "", fmt.Errorf("replay ply %d (%s): %w", i, rec.UCI, err)
		}
		pos = applied.Position
	}
	return pos, nil
}
