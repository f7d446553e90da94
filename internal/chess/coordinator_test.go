package chess

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-board/internal/chess/rules"
	"github.com/park285/cheese-board/internal/chess/session"
	"github.com/park285/cheese-board/internal/chess/uci"
)

type stubEngine struct {
	mu         sync.Mutex
	initErr    error
	move       rules.Move
	moveErr    error
	eval       uci.Evaluation
	requests   int
	budgets    []time.Duration
	difficulty string
}

func (e *stubEngine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initErr
}

func (e *stubEngine) ConfigureDifficulty(level string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.difficulty = level
	return nil
}

func (e *stubEngine) RequestBestMove(ctx context.Context, pos rules.Position, budget time.Duration) (rules.Move, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests++
	e.budgets = append(e.budgets, budget)
	return e.move, e.moveErr
}

func (e *stubEngine) RequestEvaluation(ctx context.Context, pos rules.Position) (uci.Evaluation, error) {
	return e.eval, nil
}

func (e *stubEngine) requestCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests
}

type played struct {
	rec    session.MoveRecord
	source MoveSource
}

func newVsEngineSession(t *testing.T, player rules.Color, difficulty string) *session.Session {
	t.Helper()
	s, err := session.New(rules.NewBoardOracle(), session.Config{
		Mode:       session.ModeVsEngine,
		PlayerSide: player,
		Difficulty: difficulty,
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func runCoordinator(t *testing.T, s *session.Session, engine Engine, cfg CoordinatorConfig) (*Coordinator, <-chan played) {
	t.Helper()
	moves := make(chan played, 8)
	if cfg.MinDelay == 0 {
		cfg.MinDelay = 10 * time.Millisecond
		cfg.MaxDelay = 30 * time.Millisecond
	}
	cfg.OnMove = func(rec session.MoveRecord, source MoveSource) {
		moves <- played{rec: rec, source: source}
	}
	c, err := NewCoordinator(s, engine, cfg)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	c.SetRandomSeed(7)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, moves
}

func waitMove(t *testing.T, moves <-chan played) played {
	t.Helper()
	select {
	case p := <-moves:
		return p
	case <-time.After(3 * time.Second):
		t.Fatalf("automated side never moved")
		return played{}
	}
}

func TestFallbackWhenEngineNeverReady(t *testing.T) {
	dial := func(ctx context.Context) (uci.Conn, error) {
		return nil, errors.New("engine binary missing")
	}
	bridge, err := uci.NewBridge(dial, uci.Config{StartupTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	defer bridge.Dispose()

	s := newVsEngineSession(t, rules.Black, "intermediate")
	legal, err := s.LegalMoves()
	if err != nil {
		t.Fatalf("LegalMoves: %v", err)
	}
	_, moves := runCoordinator(t, s, bridge, CoordinatorConfig{})

	p := waitMove(t, moves)
	if p.source != SourceFallback {
		t.Fatalf("source = %s, want fallback", p.source)
	}
	if !containsMove(legal, p.rec.Move()) {
		t.Fatalf("fallback move %s not legal", p.rec.UCI)
	}

	time.Sleep(100 * time.Millisecond)
	st := s.State()
	if len(st.History) != 1 {
		t.Fatalf("history = %d moves, want exactly 1", len(st.History))
	}
	if st.Turn != rules.Black {
		t.Fatalf("turn = %s, human should be to move", st.Turn)
	}
}

func TestEngineMoveApplied(t *testing.T) {
	engine := &stubEngine{move: rules.Move{From: "e7", To: "e5"}}
	s := newVsEngineSession(t, rules.White, "maximum")
	_, moves := runCoordinator(t, s, engine, CoordinatorConfig{Humanize: true, MoveBudget: 750 * time.Millisecond})

	if _, err := s.ApplyMove("e2", "e4", ""); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	p := waitMove(t, moves)
	if p.source != SourceEngine || p.rec.SAN != "e5" {
		t.Fatalf("played %s from %s", p.rec.SAN, p.source)
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.difficulty != "maximum" {
		t.Fatalf("difficulty not configured: %q", engine.difficulty)
	}
	if len(engine.budgets) != 1 || engine.budgets[0] != 750*time.Millisecond {
		t.Fatalf("budgets = %v", engine.budgets)
	}
}

func TestIllegalEngineMoveFallsBack(t *testing.T) {
	engine := &stubEngine{move: rules.Move{From: "e2", To: "e5"}}
	s := newVsEngineSession(t, rules.Black, "maximum")
	_, moves := runCoordinator(t, s, engine, CoordinatorConfig{})

	p := waitMove(t, moves)
	if p.source != SourceFallback {
		t.Fatalf("source = %s, want fallback", p.source)
	}
	if p.rec.UCI == "e2e5" {
		t.Fatalf("illegal engine move was applied")
	}
}

func TestEngineErrorFallsBack(t *testing.T) {
	engine := &stubEngine{moveErr: uci.ErrEngineTimeout}
	s := newVsEngineSession(t, rules.Black, "maximum")
	_, moves := runCoordinator(t, s, engine, CoordinatorConfig{})

	if p := waitMove(t, moves); p.source != SourceFallback {
		t.Fatalf("source = %s", p.source)
	}
}

func TestPendingTurnCanceledWhenPositionChanges(t *testing.T) {
	engine := &stubEngine{move: rules.Move{From: "e7", To: "e5"}}
	s := newVsEngineSession(t, rules.White, "maximum")
	_, moves := runCoordinator(t, s, engine, CoordinatorConfig{
		MinDelay: 200 * time.Millisecond,
		MaxDelay: 200 * time.Millisecond,
	})

	if _, err := s.ApplyMove("e2", "e4", ""); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := s.UndoLastMove(); err != nil {
		t.Fatalf("UndoLastMove: %v", err)
	}

	select {
	case p := <-moves:
		t.Fatalf("canceled turn still played %s", p.rec.UCI)
	case <-time.After(400 * time.Millisecond):
	}
	if n := engine.requestCount(); n != 0 {
		t.Fatalf("engine asked %d times", n)
	}
	if st := s.State(); len(st.History) != 0 {
		t.Fatalf("history = %v", st.UCIMoves())
	}
}

func TestNoMoveWhileReviewingHistory(t *testing.T) {
	engine := &stubEngine{move: rules.Move{From: "g8", To: "f6"}}
	s := newVsEngineSession(t, rules.White, "maximum")
	_, moves := runCoordinator(t, s, engine, CoordinatorConfig{})

	if _, err := s.ApplyMove("e2", "e4", ""); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	waitMove(t, moves)
	if err := s.NavigateToPly(-1); err != nil {
		t.Fatalf("NavigateToPly: %v", err)
	}
	select {
	case p := <-moves:
		t.Fatalf("moved while reviewing: %s", p.rec.UCI)
	case <-time.After(150 * time.Millisecond):
	}
}

type stubBook struct{ move rules.Move }

func (b stubBook) Lookup(pos rules.Position, ply int, r *rand.Rand) (rules.Move, bool, error) {
	return b.move, true, nil
}

func TestBookMovePreferred(t *testing.T) {
	engine := &stubEngine{move: rules.Move{From: "g1", To: "f3"}}
	s := newVsEngineSession(t, rules.Black, "maximum")
	_, moves := runCoordinator(t, s, engine, CoordinatorConfig{Book: stubBook{move: rules.Move{From: "d2", To: "d4"}}})

	p := waitMove(t, moves)
	if p.source != SourceBook || p.rec.UCI != "d2d4" {
		t.Fatalf("played %s from %s", p.rec.UCI, p.source)
	}
	if n := engine.requestCount(); n != 0 {
		t.Fatalf("engine consulted despite book move")
	}
}

func TestHumanizedStumbleStaysLegal(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	stumbles := 0
	for i := 0; i < 1000; i++ {
		if shouldStumble(0.4, r) {
			stumbles++
		}
	}
	if stumbles < 300 || stumbles > 500 {
		t.Fatalf("stumbles = %d of 1000 at rate 0.4", stumbles)
	}
	if shouldStumble(0, r) {
		t.Fatalf("zero rate stumbled")
	}
	if _, err := pickRandom(nil, r); !errors.Is(err, errNoLegalMoves) {
		t.Fatalf("pickRandom(nil) = %v", err)
	}
}

func TestHintLeavesSessionUntouched(t *testing.T) {
	engine := &stubEngine{move: rules.Move{From: "e2", To: "e4"}}
	s := newVsEngineSession(t, rules.White, "maximum")
	c, err := NewCoordinator(s, engine, CoordinatorConfig{})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	before := s.Version()

	mv, err := c.Hint(context.Background())
	if err != nil {
		t.Fatalf("Hint: %v", err)
	}
	if mv.String() != "e2e4" {
		t.Fatalf("hint = %s", mv)
	}
	if s.Version() != before {
		t.Fatalf("hint changed the session")
	}
	engine.mu.Lock()
	budget := engine.budgets[0]
	engine.mu.Unlock()
	if budget != time.Second {
		t.Fatalf("hint budget = %s", budget)
	}

	if err := s.Resign(rules.White); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if _, err := c.Hint(context.Background()); !errors.Is(err, session.ErrGameOver) {
		t.Fatalf("hint after game over = %v", err)
	}
}

func TestEvaluatePassesThrough(t *testing.T) {
	engine := &stubEngine{eval: uci.Evaluation{Depth: 12, Pawns: -0.35, Centipawns: -35}}
	s := newVsEngineSession(t, rules.White, "")
	ev, err := Evaluate(context.Background(), s, engine)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Centipawns != -35 {
		t.Fatalf("evaluation = %+v", ev)
	}

	engine.initErr = uci.ErrEngineUnavailable
	if _, err := Evaluate(context.Background(), s, engine); !errors.Is(err, uci.ErrEngineUnavailable) {
		t.Fatalf("Evaluate with dead engine = %v", err)
	}
}
