package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	corechess "github.com/park285/cheese-board/internal/chess"
	"github.com/park285/cheese-board/internal/chess/openingbook"
	"github.com/park285/cheese-board/internal/chess/rules"
	"github.com/park285/cheese-board/internal/chess/session"
	"github.com/park285/cheese-board/internal/chess/uci"
	"github.com/park285/cheese-board/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("game session not found")
	ErrGameNotFound    = errors.New("archived game not found")
	ErrNotYourTurn     = errors.New("automated side is to move")
	ErrInvalidConfig   = errors.New("invalid session config")
	ErrServiceClosed   = errors.New("game service closed")
)

const (
	defaultTickInterval  = 100 * time.Millisecond
	defaultAnalysisLevel = "maximum"
	defaultAnalysisDepth = 22
	persistTimeout       = 3 * time.Second
)

type Config struct {
	// TickInterval is how often running clocks are charged.
	TickInterval time.Duration
	// AnalysisLevel is the engine strength for hints and evaluation in sessions
	// without an automated opponent.
	AnalysisLevel string
	// AnalysisDepth applies when a stream is requested without a depth; a
	// negative value means search until stopped.
	AnalysisDepth int
	Coordinator   corechess.CoordinatorConfig
	PGNSite       string
}

// Service owns the live sessions of one process.
type Service struct {
	oracle  rules.Oracle
	engines EnginePool
	store   SnapshotStore
	repo    Repository
	cfg     Config
	logger  *zap.Logger

	mu     sync.Mutex
	games  map[string]*entry
	closed bool
}

type entry struct {
	session *session.Session
	engine  *pooledEngine
	coord   *corechess.Coordinator
	cancel  context.CancelFunc
	done    chan struct{}

	archiveMu sync.Mutex
	archived  bool
}

// NewService wires the registry. engines and store may be nil: without an
// engine the automated side plays random legal moves, and without a store
// sessions live only in memory.
func NewService(oracle rules.Oracle, engines EnginePool, store SnapshotStore, repo Repository, cfg Config, logger *zap.Logger) (*Service, error) {
	if oracle == nil {
		return nil, fmt.Errorf("legality oracle is required")
	}
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if strings.TrimSpace(cfg.AnalysisLevel) == "" {
		cfg.AnalysisLevel = defaultAnalysisLevel
	}
	if _, err := uci.LookupDifficulty(cfg.AnalysisLevel); err != nil {
		return nil, fmt.Errorf("analysis level: %w", err)
	}
	if cfg.AnalysisDepth == 0 {
		cfg.AnalysisDepth = defaultAnalysisDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		oracle:  oracle,
		engines: engines,
		store:   store,
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		games:   make(map[string]*entry),
	}, nil
}

// Create starts a new session and returns its first state.
func (s *Service) Create(ctx context.Context, cfg session.Config) (session.State, error) {
	if cfg.Mode == session.ModeVsEngine {
		if _, err := uci.LookupDifficulty(cfg.Difficulty); err != nil {
			return session.State{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if cfg.Timer != nil && cfg.Timer.Initial <= 0 {
		return session.State{}, fmt.Errorf("%w: timer needs a positive initial time", ErrInvalidConfig)
	}
	sess, err := session.New(s.oracle, cfg, session.WithLogger(s.logger))
	if err != nil {
		return session.State{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	e, err := s.register(sess)
	if err != nil {
		sess.Close()
		return session.State{}, err
	}
	st := e.session.State()
	s.logger.Info("game_created",
		zap.String("session_id", st.ID),
		zap.String("mode", string(st.Config.Mode)),
		zap.String("difficulty", st.Config.Difficulty),
		zap.Bool("timed", st.Config.Timer != nil),
	)
	return st, nil
}

func (s *Service) register(sess *session.Session) (*entry, error) {
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		session: sess,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	cfg := sess.Config()
	level := cfg.Difficulty
	if level == "" {
		level = s.cfg.AnalysisLevel
	}
	e.engine = newPooledEngine(s.engines, level)
	if _, ok := cfg.AutomatedSide(); ok {
		coordCfg := s.cfg.Coordinator
		coordCfg.Logger = s.logger
		coord, err := corechess.NewCoordinator(sess, e.engine, coordCfg)
		if err != nil {
			cancel()
			return nil, err
		}
		e.coord = coord
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, ErrServiceClosed
	}
	if existing, ok := s.games[sess.ID()]; ok {
		s.mu.Unlock()
		cancel()
		return existing, nil
	}
	s.games[sess.ID()] = e
	s.mu.Unlock()

	watch := sess.Watch()
	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		s.follow(ctx, e, watch)
	}()
	go func() {
		defer workers.Done()
		s.driveClock(ctx, e)
	}()
	if e.coord != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			_ = e.coord.Run(ctx)
		}()
	}
	go func() {
		workers.Wait()
		close(e.done)
	}()
	return e, nil
}

// follow persists every change and archives the game when it ends.
func (s *Service) follow(ctx context.Context, e *entry, w *session.Watcher) {
	defer w.Close()
	s.persist(e)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.C():
			if !ok {
				return
			}
			s.persist(e)
		}
	}
}

func (s *Service) persist(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if s.store != nil {
		if err := s.store.Save(ctx, e.session.Snapshot()); err != nil && !errors.Is(err, ErrStaleSnapshot) {
			s.logger.Warn("game_snapshot_failed", zap.String("session_id", e.session.ID()), zap.Error(err))
		}
	}
	if !e.session.State().Active {
		s.archive(ctx, e)
	}
}

func (s *Service) driveClock(ctx context.Context, e *entry) {
	if e.session.Config().Timer == nil {
		return
	}
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.session.Tick(now.Sub(last))
			last = now
		}
	}
}

func (s *Service) archive(ctx context.Context, e *entry) {
	e.archiveMu.Lock()
	defer e.archiveMu.Unlock()
	if e.archived {
		return
	}
	st := e.session.State()
	if st.Active {
		return
	}
	record := s.archiveRecord(st)
	id, err := s.repo.InsertGame(ctx, record)
	switch {
	case errors.Is(err, ErrDuplicateGame):
		e.archived = true
	case err != nil:
		s.logger.Error("game_archive_failed", zap.String("session_id", st.ID), zap.Error(err))
	default:
		e.archived = true
		s.logger.Info("game_archived",
			zap.String("session_id", st.ID),
			zap.Int64("archive_id", id),
			zap.String("result", string(st.Result.Outcome)),
			zap.String("method", string(st.Result.Method)),
		)
	}
}

func (s *Service) archiveRecord(st session.State) *domain.ArchivedGame {
	initial := st.Config.Initial
	if initial == "" {
		initial = rules.StartingPosition
	}
	moves := st.UCIMoves()
	record := &domain.ArchivedGame{
		SessionID:    st.ID,
		Mode:         string(st.Config.Mode),
		Difficulty:   st.Config.Difficulty,
		InitialFEN:   string(initial),
		Result:       string(st.Result.Outcome),
		ResultMethod: string(st.Result.Method),
		MovesUCI:     moves,
		MovesSAN:     st.SANMoves(),
		PGN:          session.BuildPGN(st, s.pgnTags(st)),
		StartedAt:    st.StartedAt,
		EndedAt:      st.UpdatedAt,
		Duration:     st.UpdatedAt.Sub(st.StartedAt),
	}
	if st.Config.Mode == session.ModeVsEngine {
		record.PlayerSide = st.Config.PlayerSide.String()
	}
	if op, ok := openingbook.Name(initial, moves); ok {
		record.OpeningECO = op.Code
		record.OpeningName = op.Title
	}
	return record
}

func (s *Service) pgnTags(st session.State) session.PGNTags {
	tags := session.PGNTags{Site: s.cfg.PGNSite}
	if side, ok := st.Config.AutomatedSide(); ok {
		engine := "Engine"
		if st.Config.Difficulty != "" {
			engine = "Engine (" + st.Config.Difficulty + ")"
		}
		if side == rules.White {
			tags.White, tags.Black = engine, "Player"
		} else {
			tags.White, tags.Black = "Player", engine
		}
	}
	return tags
}

// lookup finds a live session, restoring it from the snapshot store if needed.
func (s *Service) lookup(ctx context.Context, id string) (*entry, error) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	e, ok := s.games[id]
	s.mu.Unlock()
	if ok {
		return e, nil
	}
	if s.store == nil || id == "" {
		return nil, ErrSessionNotFound
	}
	snap, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	if snap == nil {
		return nil, ErrSessionNotFound
	}
	return s.restore(*snap)
}

func (s *Service) restore(snap session.Snapshot) (*entry, error) {
	sess, err := session.Restore(s.oracle, snap, session.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", snap.ID, err)
	}
	e, err := s.register(sess)
	if err != nil {
		sess.Close()
		return nil, err
	}
	if e.session != sess {
		sess.Close()
	}
	s.logger.Info("game_restored", zap.String("session_id", snap.ID), zap.Int("moves", len(snap.Moves)))
	return e, nil
}

// Resume restores every stored session. It returns how many were loaded.
func (s *Service) Resume(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	ids, err := s.store.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	restored := 0
	for _, id := range ids {
		if _, err := s.lookup(ctx, id); err != nil {
			s.logger.Warn("game_resume_failed", zap.String("session_id", id), zap.Error(err))
			continue
		}
		restored++
	}
	return restored, nil
}

func (s *Service) State(ctx context.Context, id string) (session.State, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return session.State{}, err
	}
	return e.session.State(), nil
}

// Move plays a human move. In games against the engine it is refused while the
// engine is to move.
func (s *Service) Move(ctx context.Context, id, from, to, promotion string) (session.MoveRecord, session.State, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return session.MoveRecord{}, session.State{}, err
	}
	st := e.session.State()
	if side, ok := st.Config.AutomatedSide(); ok && st.Turn == side {
		return session.MoveRecord{}, st, ErrNotYourTurn
	}
	rec, err := e.session.ApplyMoveAt(st.Version, from, to, promotion)
	if err != nil {
		return session.MoveRecord{}, e.session.State(), err
	}
	return rec, e.session.State(), nil
}

// Undo takes back the last move. Against the engine it also takes back the
// engine's reply so the player is on move again.
func (s *Service) Undo(ctx context.Context, id string) (session.State, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return session.State{}, err
	}
	st := e.session.State()
	if len(st.History) == 0 {
		return st, session.ErrUndoUnavailable
	}
	if err := e.session.UndoLastMove(); err != nil {
		return e.session.State(), err
	}
	if side, ok := st.Config.AutomatedSide(); ok && len(st.History) >= 2 && st.Turn != side {
		if err := e.session.UndoLastMove(); err != nil {
			return e.session.State(), err
		}
	}
	return e.session.State(), nil
}

func (s *Service) Navigate(ctx context.Context, id string, ply int) (session.State, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return session.State{}, err
	}
	if err := e.session.NavigateToPly(ply); err != nil {
		return e.session.State(), err
	}
	return e.session.State(), nil
}

// Resign ends the game for side. An empty side means the player against the
// engine, or the side to move otherwise.
func (s *Service) Resign(ctx context.Context, id, side string) (session.State, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return session.State{}, err
	}
	st := e.session.State()
	var loser rules.Color
	switch {
	case strings.TrimSpace(side) != "":
		loser, err = rules.ParseColor(side)
		if err != nil {
			return st, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	case st.Config.Mode == session.ModeVsEngine:
		loser = st.Config.PlayerSide
	default:
		loser = st.LivePosition.Turn()
	}
	if err := e.session.Resign(loser); err != nil {
		return e.session.State(), err
	}
	return e.session.State(), nil
}

func (s *Service) Draw(ctx context.Context, id string) (session.State, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return session.State{}, err
	}
	if err := e.session.DeclareDraw(); err != nil {
		return e.session.State(), err
	}
	return e.session.State(), nil
}

func (s *Service) Selectable(ctx context.Context, id, square string) ([]string, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.session.SelectableMoves(square)
}

func (s *Service) Hint(ctx context.Context, id string) (rules.Move, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return rules.Move{}, err
	}
	return corechess.Hint(ctx, e.session, e.engine, s.cfg.Coordinator.HintBudget)
}

func (s *Service) Evaluate(ctx context.Context, id string) (uci.Evaluation, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return uci.Evaluation{}, err
	}
	return corechess.Evaluate(ctx, e.session, e.engine)
}

// Analyze streams evaluations of the shown position to fn until fn returns
// false, ctx ends, the search completes, or the session moves on. depth 0 uses
// the configured default.
func (s *Service) Analyze(ctx context.Context, id string, depth int, fn func(uci.Evaluation) bool) error {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if s.engines == nil {
		return uci.ErrEngineUnavailable
	}
	if depth == 0 {
		depth = s.cfg.AnalysisDepth
	}
	if depth < 0 {
		depth = 0
	}

	st := e.session.State()
	bridge, err := s.engines.Acquire(ctx, s.cfg.AnalysisLevel)
	if err != nil {
		return err
	}
	analysis, err := bridge.StartAnalysis(ctx, st.Position, depth)
	if err != nil {
		s.engines.Release(bridge, brokenBridge(err))
		return err
	}
	defer func() {
		analysis.Stop()
		s.engines.Release(bridge, brokenBridge(analysis.Err()))
	}()

	watch := e.session.Watch()
	defer watch.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-watch.C():
			if !ok || e.session.Version() != st.Version {
				return nil
			}
		case info, ok := <-analysis.Events():
			if !ok {
				return ignoreStopped(analysis.Err())
			}
			if !fn(analysis.Evaluate(info)) {
				return nil
			}
		}
	}
}

func ignoreStopped(err error) error {
	if errors.Is(err, uci.ErrCanceled) {
		return nil
	}
	return err
}

func (s *Service) PGN(ctx context.Context, id string) (string, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return "", err
	}
	st := e.session.State()
	return session.BuildPGN(st, s.pgnTags(st)), nil
}

// Close ends a session for good: it is archived if finished and its snapshot
// is removed.
func (s *Service) Close(ctx context.Context, id string) error {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.games[e.session.ID()] == e {
		delete(s.games, e.session.ID())
	}
	s.mu.Unlock()

	s.stop(e)
	if !e.session.State().Active {
		s.archive(ctx, e)
	}
	e.session.Close()
	if s.store != nil {
		if err := s.store.Delete(ctx, e.session.ID()); err != nil {
			return fmt.Errorf("delete snapshot: %w", err)
		}
	}
	s.logger.Info("game_closed", zap.String("session_id", e.session.ID()))
	return nil
}

func (s *Service) stop(e *entry) {
	e.cancel()
	<-e.done
}

// Shutdown stops every session but keeps their snapshots for Resume.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := make([]*entry, 0, len(s.games))
	for _, e := range s.games {
		entries = append(entries, e)
	}
	s.games = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range entries {
		s.stop(e)
		e.session.Close()
	}
}

func (s *Service) Archive(ctx context.Context, limit int) ([]*domain.ArchivedGame, error) {
	return s.repo.RecentGames(ctx, limit)
}

func (s *Service) ArchivedGame(ctx context.Context, id int64) (*domain.ArchivedGame, error) {
	game, err := s.repo.GetGame(ctx, id)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return nil, ErrGameNotFound
	}
	return game, nil
}
