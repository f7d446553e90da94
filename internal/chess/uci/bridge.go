package uci

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/chess/rules"
)

const (
	defaultStartupTimeout = 10 * time.Second
	defaultGrace          = time.Second
	defaultEvalDepth      = 12
	defaultEvalTimeout    = 5 * time.Second
	defaultHashMB         = 16
	outboxSize            = 256
	closeGrace            = 500 * time.Millisecond
)

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateBusy
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	StartupTimeout time.Duration
	Grace          time.Duration
	Threads        int
	HashMB         int
	EvalDepth      int
	EvalTimeout    time.Duration
	Difficulty     string
	Logger         *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	if c.Grace <= 0 {
		c.Grace = defaultGrace
	}
	if c.Threads <= 0 {
		c.Threads = 1
	}
	if c.HashMB <= 0 {
		c.HashMB = defaultHashMB
	}
	if c.EvalDepth <= 0 {
		c.EvalDepth = defaultEvalDepth
	}
	if c.EvalTimeout <= 0 {
		c.EvalTimeout = defaultEvalTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type requestKind int

const (
	kindBestMove requestKind = iota
	kindEvaluate
)

func (k requestKind) String() string {
	if k == kindEvaluate {
		return "evaluate"
	}
	return "best_move"
}

type result struct {
	move BestMove
	info *Info
	err  error
}

type request struct {
	id       string
	kind     requestKind
	position rules.Position
	deadline time.Duration
	started  time.Time
	timer    *time.Timer
	lastInfo *Info
	done     chan result
}

type handshake struct {
	done   chan struct{}
	err    error
	tokens chan string
}

// link is one live connection: a reader goroutine, a writer goroutine fed by
// out, and lost which closes when the link is dropped.
type link struct {
	conn   Conn
	out    chan string
	lost   chan struct{}
	done   chan struct{}
	closed chan struct{}
}

// Bridge drives one external UCI engine. Every field below mu is guarded by it;
// nothing blocks on I/O while holding it.
type Bridge struct {
	dial   Dialer
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	link       *link
	handshake  *handshake
	difficulty Difficulty
	pending    *request
	analysis   *Analysis
	// bestmove lines still owed by searches that were stopped
	stale int
}

func NewBridge(dial Dialer, cfg Config) (*Bridge, error) {
	if dial == nil {
		return nil, fmt.Errorf("bridge requires a dialer")
	}
	cfg = cfg.withDefaults()
	diff, err := LookupDifficulty(cfg.Difficulty)
	if err != nil {
		return nil, err
	}
	return &Bridge{
		dial:       dial,
		cfg:        cfg,
		logger:     cfg.Logger,
		state:      StateUninitialized,
		difficulty: diff,
	}, nil
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) Difficulty() Difficulty {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.difficulty
}

// Initialize connects and completes the uci/isready handshake. Callers that
// arrive while a handshake is running wait for that one.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateReady, StateBusy:
		b.mu.Unlock()
		return nil
	case StateTerminated:
		b.mu.Unlock()
		return ErrEngineTerminated
	case StateInitializing:
		hs := b.handshake
		b.mu.Unlock()
		select {
		case <-hs.done:
			return hs.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	hs := &handshake{done: make(chan struct{}), tokens: make(chan string, 4)}
	b.handshake = hs
	b.state = StateInitializing
	diff := b.difficulty
	b.mu.Unlock()

	started := time.Now()
	err := b.runHandshake(ctx, hs)

	b.mu.Lock()
	b.handshake = nil
	switch {
	case b.state == StateTerminated:
		err = ErrEngineTerminated
	case err != nil:
		b.dropLinkLocked()
		b.state = StateUninitialized
	default:
		b.state = StateReady
	}
	hs.err = err
	close(hs.done)
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn("engine_handshake_failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return err
	}
	b.logger.Info("engine_ready",
		zap.String("difficulty", string(diff.Level)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (b *Bridge) runHandshake(ctx context.Context, hs *handshake) error {
	startCtx, cancel := context.WithTimeout(ctx, b.cfg.StartupTimeout)
	defer cancel()

	conn, err := b.dial(startCtx)
	if err != nil {
		return unavailable(err)
	}

	b.mu.Lock()
	if b.state == StateTerminated {
		b.mu.Unlock()
		_ = conn.Close()
		return ErrEngineTerminated
	}
	l := b.attachLocked(conn)
	b.sendLocked("uci")
	b.mu.Unlock()

	if err := awaitToken(startCtx, hs, l, "uciok"); err != nil {
		return err
	}

	b.mu.Lock()
	b.sendLocked(fmt.Sprintf("setoption name Threads value %d", b.cfg.Threads))
	b.sendLocked(fmt.Sprintf("setoption name Hash value %d", b.cfg.HashMB))
	b.sendLocked(b.difficulty.skillCommand())
	b.sendLocked("isready")
	b.mu.Unlock()

	return awaitToken(startCtx, hs, l, "readyok")
}

func awaitToken(ctx context.Context, hs *handshake, l *link, want string) error {
	for {
		select {
		case tok := <-hs.tokens:
			if tok == want {
				return nil
			}
		case <-l.lost:
			return fmt.Errorf("%w: connection lost before %s", ErrEngineUnavailable, want)
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for %s: %v", ErrEngineUnavailable, want, ctx.Err())
		}
	}
}

// ConfigureDifficulty switches the preset. A connected engine gets the new
// skill level at once; otherwise it is applied during the handshake.
func (b *Bridge) ConfigureDifficulty(level string) error {
	diff, err := LookupDifficulty(level)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateTerminated {
		return ErrEngineTerminated
	}
	b.difficulty = diff
	if b.state == StateReady || b.state == StateBusy {
		b.sendLocked(diff.skillCommand())
	}
	return nil
}

func (b *Bridge) NewGame() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateTerminated:
		return ErrEngineTerminated
	case StateReady, StateBusy:
		b.sendLocked("ucinewgame")
		return nil
	default:
		return ErrNotReady
	}
}

// RequestBestMove searches pos for at most budget (zero means the preset move
// time). A pending request or analysis is superseded.
func (b *Bridge) RequestBestMove(ctx context.Context, pos rules.Position, budget time.Duration) (rules.Move, error) {
	b.mu.Lock()
	diff := b.difficulty
	b.mu.Unlock()
	if budget <= 0 {
		budget = diff.MoveTime
	}

	req, err := b.submit(kindBestMove, pos, budget+b.cfg.Grace,
		"ucinewgame",
		buildPositionCommand(string(pos)),
		buildGoCommand(diff.Depth, budget),
	)
	if err != nil {
		return rules.Move{}, err
	}
	res := b.await(ctx, req)
	if res.err != nil {
		return rules.Move{}, res.err
	}
	if res.move.None {
		return rules.Move{}, ErrNoMove
	}
	return res.move.Move, nil
}

// RequestEvaluation runs a fixed-depth search and reports the last score seen
// before bestmove, normalized so that positive favors White.
func (b *Bridge) RequestEvaluation(ctx context.Context, pos rules.Position) (Evaluation, error) {
	req, err := b.submit(kindEvaluate, pos, b.cfg.EvalTimeout+b.cfg.Grace,
		buildPositionCommand(string(pos)),
		buildGoCommand(b.cfg.EvalDepth, 0),
	)
	if err != nil {
		return Evaluation{}, err
	}
	res := b.await(ctx, req)
	if res.err != nil {
		return Evaluation{}, res.err
	}
	if res.info == nil {
		return Evaluation{}, ErrNoScore
	}
	ev := NewEvaluation(*res.info, pos.Turn())
	if !res.move.None {
		ev.BestMove = res.move.Move.String()
	}
	return ev, nil
}

func (b *Bridge) submit(kind requestKind, pos rules.Position, deadline time.Duration, cmds ...string) (*request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateTerminated:
		return nil, ErrEngineTerminated
	case StateUninitialized, StateInitializing:
		return nil, ErrNotReady
	}

	if b.pending != nil {
		b.logger.Debug("engine_request_superseded", zap.String("request_id", b.pending.id))
		b.interruptLocked()
		b.resolvePendingLocked(result{err: fmt.Errorf("%w: superseded", ErrCanceled)})
	}
	if b.analysis != nil {
		b.interruptLocked()
		b.finishAnalysisLocked(nil)
	}

	req := &request{
		id:       uuid.NewString(),
		kind:     kind,
		position: pos,
		deadline: deadline,
		started:  time.Now(),
		done:     make(chan result, 1),
	}
	for _, cmd := range cmds {
		if !b.sendLocked(cmd) {
			return nil, fmt.Errorf("%w: command queue unavailable", ErrEngineUnavailable)
		}
	}
	b.pending = req
	b.state = StateBusy
	req.timer = time.AfterFunc(deadline, func() { b.expire(req) })

	b.logger.Debug("engine_request",
		zap.String("request_id", req.id),
		zap.String("kind", kind.String()),
		zap.String("fen", string(pos)),
		zap.Duration("deadline", deadline),
	)
	return req, nil
}

func (b *Bridge) await(ctx context.Context, req *request) result {
	select {
	case res := <-req.done:
		return res
	case <-ctx.Done():
		b.mu.Lock()
		if b.pending == req {
			b.interruptLocked()
			b.resolvePendingLocked(result{err: fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())})
		}
		b.mu.Unlock()
		return <-req.done
	}
}

func (b *Bridge) expire(req *request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != req {
		return
	}
	b.interruptLocked()
	b.resolvePendingLocked(result{err: fmt.Errorf("%w: no bestmove within %s", ErrEngineTimeout, req.deadline)})
	b.logger.Warn("engine_request_timeout",
		zap.String("request_id", req.id),
		zap.String("kind", req.kind.String()),
		zap.Duration("deadline", req.deadline),
	)
}

// Stop aborts the running search. A pending request fails with ErrCanceled and
// a running analysis ends cleanly.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != nil {
		b.interruptLocked()
		b.resolvePendingLocked(result{err: fmt.Errorf("%w: stopped", ErrCanceled)})
	}
	if b.analysis != nil {
		b.interruptLocked()
		b.finishAnalysisLocked(nil)
	}
}

// Dispose quits the engine. Outstanding work fails with ErrEngineTerminated.
func (b *Bridge) Dispose() {
	b.mu.Lock()
	if b.state == StateTerminated {
		b.mu.Unlock()
		return
	}
	b.state = StateTerminated
	b.resolvePendingLocked(result{err: ErrEngineTerminated})
	b.finishAnalysisLocked(ErrEngineTerminated)
	b.sendLocked("quit")
	l := b.link
	b.dropLinkLocked()
	b.mu.Unlock()

	if l != nil {
		<-l.closed
	}
	b.logger.Info("engine_disposed")
}

func (b *Bridge) attachLocked(conn Conn) *link {
	l := &link{
		conn:   conn,
		out:    make(chan string, outboxSize),
		lost:   make(chan struct{}),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	b.link = l
	b.stale = 0
	go b.readLoop(l)
	go b.writeLoop(l)
	return l
}

func (b *Bridge) dropLinkLocked() {
	l := b.link
	if l == nil {
		return
	}
	b.link = nil
	b.stale = 0
	close(l.lost)
	close(l.out)
	go func() {
		defer close(l.closed)
		select {
		case <-l.done:
		case <-time.After(closeGrace):
		}
		if err := l.conn.Close(); err != nil {
			b.logger.Debug("engine_close", zap.Error(err))
		}
	}()
}

func (b *Bridge) sendLocked(line string) bool {
	if b.link == nil {
		return false
	}
	select {
	case b.link.out <- line:
		return true
	default:
		b.logger.Warn("engine_outbox_full", zap.String("command", line))
		return false
	}
}

// interruptLocked stops the current search; its bestmove becomes stale.
func (b *Bridge) interruptLocked() {
	if b.sendLocked("stop") {
		b.stale++
	}
}

func (b *Bridge) resolvePendingLocked(res result) {
	req := b.pending
	if req == nil {
		return
	}
	b.pending = nil
	if req.timer != nil {
		req.timer.Stop()
	}
	req.done <- res
	b.refreshStateLocked()

	fields := []zap.Field{
		zap.String("request_id", req.id),
		zap.String("kind", req.kind.String()),
		zap.Duration("elapsed", time.Since(req.started)),
	}
	if res.err != nil {
		fields = append(fields, zap.Error(res.err))
	}
	b.logger.Debug("engine_request_settled", fields...)
}

func (b *Bridge) finishAnalysisLocked(err error) {
	a := b.analysis
	if a == nil {
		return
	}
	b.analysis = nil
	a.finish(err)
	b.refreshStateLocked()
}

func (b *Bridge) refreshStateLocked() {
	if b.state != StateReady && b.state != StateBusy {
		return
	}
	if b.pending != nil || b.analysis != nil {
		b.state = StateBusy
		return
	}
	b.state = StateReady
}

func (b *Bridge) readLoop(l *link) {
	for {
		line, err := l.conn.ReadLine()
		if err != nil {
			b.handleDisconnect(l, err)
			return
		}
		msg, perr := ParseLine(line)
		if perr != nil {
			var warn *ParseWarning
			if errors.As(perr, &warn) {
				b.logger.Warn("engine_parse_warning", zap.String("field", warn.Field), zap.String("line", warn.Line))
			}
		}
		if msg == nil {
			continue
		}
		b.dispatch(l, msg)
	}
}

func (b *Bridge) writeLoop(l *link) {
	defer close(l.done)
	for line := range l.out {
		if err := l.conn.WriteLine(line); err != nil {
			b.handleDisconnect(l, err)
			for range l.out {
			}
			return
		}
	}
}

func (b *Bridge) dispatch(l *link, msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.link != l {
		return
	}

	switch m := msg.(type) {
	case Ready:
		if hs := b.handshake; hs != nil {
			select {
			case hs.tokens <- m.Token:
			default:
			}
		}
	case Info:
		if b.stale > 0 {
			return
		}
		if req := b.pending; req != nil {
			if m.HasScore() {
				info := m
				req.lastInfo = &info
			}
			return
		}
		if a := b.analysis; a != nil {
			a.publish(m)
		}
	case BestMove:
		if b.stale > 0 {
			b.stale--
			return
		}
		if b.pending != nil {
			b.resolvePendingLocked(result{move: m, info: b.pending.lastInfo})
			return
		}
		if b.analysis != nil {
			b.finishAnalysisLocked(nil)
			return
		}
		b.logger.Debug("engine_unsolicited_bestmove", zap.String("move", m.Move.String()))
	}
}

func (b *Bridge) handleDisconnect(l *link, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.link != l {
		return
	}
	b.dropLinkLocked()
	if b.state == StateTerminated {
		return
	}
	err := unavailable(cause)
	b.resolvePendingLocked(result{err: err})
	b.finishAnalysisLocked(err)
	if b.state != StateInitializing {
		b.state = StateUninitialized
	}
	b.logger.Warn("engine_disconnected", zap.Error(cause))
}

func unavailable(err error) error {
	if errors.Is(err, ErrEngineUnavailable) || errors.Is(err, ErrEngineTerminated) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
}
