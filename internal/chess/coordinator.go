package chess

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/chess/rules"
	"github.com/park285/cheese-board/internal/chess/session"
	"github.com/park285/cheese-board/internal/chess/uci"
)

const (
	defaultMinDelay   = 300 * time.Millisecond
	defaultMaxDelay   = time.Second
	defaultHintBudget = time.Second
)

// Engine is the part of uci.Bridge the coordinator needs.
type Engine interface {
	Initialize(ctx context.Context) error
	ConfigureDifficulty(level string) error
	RequestBestMove(ctx context.Context, pos rules.Position, budget time.Duration) (rules.Move, error)
	RequestEvaluation(ctx context.Context, pos rules.Position) (uci.Evaluation, error)
}

type OpeningBook interface {
	Lookup(pos rules.Position, ply int, r *rand.Rand) (rules.Move, bool, error)
}

type CoordinatorConfig struct {
	MinDelay   time.Duration
	MaxDelay   time.Duration
	MoveBudget time.Duration
	HintBudget time.Duration
	// Humanize lets weaker presets play a random move at their error rate.
	Humanize bool
	Book     OpeningBook
	Logger   *zap.Logger
	// OnMove observes every automated move after it is applied.
	OnMove func(rec session.MoveRecord, source MoveSource)
}

// MoveSource says where an automated move came from.
type MoveSource string

const (
	SourceEngine   MoveSource = "engine"
	SourceBook     MoveSource = "book"
	SourceFallback MoveSource = "fallback"
	SourceStumble  MoveSource = "stumble"
)

// Coordinator plays the automated side of one session.
type Coordinator struct {
	session *session.Session
	engine  Engine
	cfg     CoordinatorConfig
	logger  *zap.Logger

	randMu sync.Mutex
	rand   *rand.Rand

	mu   sync.Mutex
	turn *turn
	wg   sync.WaitGroup
}

type turn struct {
	version uint64
	timer   *time.Timer
	cancel  context.CancelFunc
}

func NewCoordinator(s *session.Session, engine Engine, cfg CoordinatorConfig) (*Coordinator, error) {
	if s == nil {
		return nil, fmt.Errorf("coordinator requires a session")
	}
	if engine == nil {
		return nil, fmt.Errorf("coordinator requires an engine")
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = defaultMinDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.HintBudget <= 0 {
		cfg.HintBudget = defaultHintBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coordinator{
		session: s,
		engine:  engine,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("session_id", s.ID())),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (c *Coordinator) SetRandomSeed(seed int64) {
	c.randMu.Lock()
	c.rand = rand.New(rand.NewSource(seed))
	c.randMu.Unlock()
}

func (c *Coordinator) random() *rand.Rand {
	c.randMu.Lock()
	seed := c.rand.Int63()
	c.randMu.Unlock()
	return rand.New(rand.NewSource(seed))
}

// Run follows the session until ctx ends or the session closes. It returns
// after any in-flight turn has finished.
func (c *Coordinator) Run(ctx context.Context) error {
	w := c.session.Watch()
	defer w.Close()
	defer c.wg.Wait()
	defer c.cancelTurn()

	if diff := c.session.Config().Difficulty; diff != "" {
		if err := c.engine.ConfigureDifficulty(diff); err != nil {
			c.logger.Warn("coordinator_difficulty", zap.String("difficulty", diff), zap.Error(err))
		}
	}

	c.schedule(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-w.C():
			if !ok {
				return nil
			}
			c.schedule(ctx)
		}
	}
}

func automatedToMove(st session.State) bool {
	side, ok := st.Config.AutomatedSide()
	return ok && st.Active && st.AtLiveEnd() && st.Turn == side
}

// schedule arms a delayed turn for the current version, replacing any turn
// armed for an older one.
func (c *Coordinator) schedule(ctx context.Context) {
	st := c.session.State()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn != nil {
		if c.turn.version == st.Version {
			return
		}
		c.cancelTurnLocked()
	}
	if !automatedToMove(st) {
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{version: st.Version, cancel: cancel}
	delay := c.delay()
	c.wg.Add(1)
	t.timer = time.AfterFunc(delay, func() {
		defer c.wg.Done()
		c.play(turnCtx, t.version)
	})
	c.turn = t
	c.logger.Debug("coordinator_scheduled", zap.Uint64("version", st.Version), zap.Duration("delay", delay))
}

func (c *Coordinator) cancelTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelTurnLocked()
}

func (c *Coordinator) cancelTurnLocked() {
	if c.turn == nil {
		return
	}
	if c.turn.timer.Stop() {
		c.wg.Done()
	}
	c.turn.cancel()
	c.turn = nil
}

func (c *Coordinator) delay() time.Duration {
	span := c.cfg.MaxDelay - c.cfg.MinDelay
	if span <= 0 {
		return c.cfg.MinDelay
	}
	r := c.random()
	return c.cfg.MinDelay + time.Duration(r.Int63n(int64(span)+1))
}

func (c *Coordinator) play(ctx context.Context, version uint64) {
	st := c.session.State()
	if st.Version != version || !automatedToMove(st) {
		return
	}
	legal, err := c.session.LegalMoves()
	if err != nil || len(legal) == 0 {
		c.logger.Warn("coordinator_no_moves", zap.Error(err))
		return
	}

	r := c.random()
	mv, source := c.choose(ctx, st, legal, r)
	if ctx.Err() != nil {
		return
	}

	rec, err := c.session.ApplyMoveAt(version, mv.From, mv.To, mv.Promotion)
	if errors.Is(err, session.ErrIllegalMove) {
		c.logger.Warn("coordinator_illegal_move", zap.String("move", mv.String()), zap.String("source", string(source)))
		mv, _ = pickRandom(legal, r)
		source = SourceFallback
		rec, err = c.session.ApplyMoveAt(version, mv.From, mv.To, mv.Promotion)
	}
	if err != nil {
		if !errors.Is(err, session.ErrStalePosition) {
			c.logger.Warn("coordinator_apply_failed", zap.String("move", mv.String()), zap.Error(err))
		}
		return
	}

	c.logger.Info("coordinator_move",
		zap.String("uci", rec.UCI),
		zap.String("san", rec.SAN),
		zap.String("source", string(source)),
	)
	if c.cfg.OnMove != nil {
		c.cfg.OnMove(rec, source)
	}
}

// choose never fails: every engine problem ends in a uniformly random legal move.
func (c *Coordinator) choose(ctx context.Context, st session.State, legal []rules.Move, r *rand.Rand) (rules.Move, MoveSource) {
	fallback := func(reason error) (rules.Move, MoveSource) {
		mv, _ := pickRandom(legal, r)
		if ctx.Err() == nil {
			c.logger.Warn("coordinator_fallback", zap.Error(reason), zap.String("move", mv.String()))
		}
		return mv, SourceFallback
	}

	if c.cfg.Humanize {
		if diff, err := uci.LookupDifficulty(st.Config.Difficulty); err == nil && shouldStumble(diff.ErrorRate, r) {
			mv, _ := pickRandom(legal, r)
			return mv, SourceStumble
		}
	}

	if c.cfg.Book != nil {
		mv, ok, err := c.cfg.Book.Lookup(st.Position, len(st.History), r)
		if err != nil {
			c.logger.Debug("coordinator_book", zap.Error(err))
		}
		if ok && containsMove(legal, mv) {
			return mv, SourceBook
		}
	}

	if err := c.engine.Initialize(ctx); err != nil {
		return fallback(err)
	}
	mv, err := c.engine.RequestBestMove(ctx, st.Position, c.cfg.MoveBudget)
	if err != nil {
		return fallback(err)
	}
	if !containsMove(legal, mv) {
		return fallback(fmt.Errorf("%w: engine proposed %s", rules.ErrIllegalMove, mv))
	}
	return mv, SourceEngine
}

// Hint asks the engine for a move in the shown position without touching the session.
func (c *Coordinator) Hint(ctx context.Context) (rules.Move, error) {
	return Hint(ctx, c.session, c.engine, c.cfg.HintBudget)
}

func (c *Coordinator) Evaluate(ctx context.Context) (uci.Evaluation, error) {
	return Evaluate(ctx, c.session, c.engine)
}

// Hint is the coordinator-free form used for sessions without an automated side.
func Hint(ctx context.Context, s *session.Session, engine Engine, budget time.Duration) (rules.Move, error) {
	st := s.State()
	if !st.Active {
		return rules.Move{}, session.ErrGameOver
	}
	if budget <= 0 {
		budget = defaultHintBudget
	}
	if err := engine.Initialize(ctx); err != nil {
		return rules.Move{}, err
	}
	return engine.RequestBestMove(ctx, st.Position, budget)
}

func Evaluate(ctx context.Context, s *session.Session, engine Engine) (uci.Evaluation, error) {
	st := s.State()
	if err := engine.Initialize(ctx); err != nil {
		return uci.Evaluation{}, err
	}
	return engine.RequestEvaluation(ctx, st.Position)
}
