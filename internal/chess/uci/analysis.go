package uci

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/chess/rules"
)

const (
	analysisBuffer = 64
	evalBarCap     = 10.0
)

// Evaluation is an engine score from White's point of view: positive favors
// White. MateIn > 0 means White mates in that many moves.
type Evaluation struct {
	Depth      int      `json:"depth"`
	Centipawns int      `json:"centipawns"`
	Pawns      float64  `json:"pawns"`
	Mate       bool     `json:"mate"`
	MateIn     int      `json:"mate_in,omitempty"`
	PV         []string `json:"pv,omitempty"`
	BestMove   string   `json:"best_move,omitempty"`
}

// NewEvaluation normalizes a side-to-move relative engine score.
func NewEvaluation(info Info, turn rules.Color) Evaluation {
	sign := 1
	if turn == rules.Black {
		sign = -1
	}
	ev := Evaluation{
		Depth: info.Depth,
		PV:    append([]string(nil), info.PV...),
	}
	if len(info.PV) > 0 {
		ev.BestMove = info.PV[0]
	}
	if info.HasMate {
		ev.Mate = true
		ev.MateIn = sign * info.MateIn
		return ev
	}
	ev.Centipawns = sign * info.Centipawns
	ev.Pawns = float64(ev.Centipawns) / 100
	return ev
}

// WhitePercent is the share of an evaluation bar owned by White, with the score
// clamped to ten pawns either way.
func (e Evaluation) WhitePercent() float64 {
	if e.Mate {
		switch {
		case e.MateIn > 0:
			return 100
		case e.MateIn < 0:
			return 0
		}
		return 50
	}
	clamped := math.Max(-evalBarCap, math.Min(evalBarCap, e.Pawns))
	return 50 + clamped/(2*evalBarCap)*100
}

// Analysis is a running stream of search updates for one position.
type Analysis struct {
	id       string
	position rules.Position
	depth    int
	bridge   *Bridge

	events chan Info
	done   chan struct{}
	err    error
}

func (a *Analysis) ID() string               { return a.id }
func (a *Analysis) Position() rules.Position { return a.position }

// Events yields Info lines in arrival order and is closed when the analysis ends.
// A slow reader loses the oldest lines, never the newest.
func (a *Analysis) Events() <-chan Info { return a.events }

func (a *Analysis) Done() <-chan struct{} { return a.done }

// Err is valid after Done; nil when the search finished or was stopped.
func (a *Analysis) Err() error {
	<-a.done
	return a.err
}

// Evaluate normalizes an event from this stream.
func (a *Analysis) Evaluate(info Info) Evaluation {
	return NewEvaluation(info, a.position.Turn())
}

func (a *Analysis) Stop() {
	a.bridge.stopAnalysis(a)
}

// publish runs under the bridge mutex and never blocks.
func (a *Analysis) publish(info Info) {
	select {
	case a.events <- info:
		return
	default:
	}
	select {
	case <-a.events:
	default:
	}
	select {
	case a.events <- info:
	default:
	}
}

func (a *Analysis) finish(err error) {
	a.err = err
	close(a.events)
	close(a.done)
}

// StartAnalysis streams search updates for pos until depth is reached, Stop is
// called, ctx ends, or another request supersedes it. Depth 0 searches forever.
func (b *Bridge) StartAnalysis(ctx context.Context, pos rules.Position, depth int) (*Analysis, error) {
	if depth < 0 {
		depth = 0
	}
	b.mu.Lock()
	switch b.state {
	case StateTerminated:
		b.mu.Unlock()
		return nil, ErrEngineTerminated
	case StateUninitialized, StateInitializing:
		b.mu.Unlock()
		return nil, ErrNotReady
	}
	if b.pending != nil {
		b.interruptLocked()
		b.resolvePendingLocked(result{err: ErrCanceled})
	}
	if b.analysis != nil {
		b.interruptLocked()
		b.finishAnalysisLocked(nil)
	}

	a := &Analysis{
		id:       uuid.NewString(),
		position: pos,
		depth:    depth,
		bridge:   b,
		events:   make(chan Info, analysisBuffer),
		done:     make(chan struct{}),
	}
	if !b.sendLocked(buildPositionCommand(string(pos))) || !b.sendLocked(buildGoCommand(depth, 0)) {
		b.mu.Unlock()
		return nil, ErrEngineUnavailable
	}
	b.analysis = a
	b.state = StateBusy
	b.mu.Unlock()

	b.logger.Debug("engine_analysis_started",
		zap.String("analysis_id", a.id),
		zap.String("fen", string(pos)),
		zap.Int("depth", depth),
	)

	started := time.Now()
	go func() {
		select {
		case <-ctx.Done():
			a.Stop()
		case <-a.done:
		}
		b.logger.Debug("engine_analysis_finished",
			zap.String("analysis_id", a.id),
			zap.Duration("elapsed", time.Since(started)),
		)
	}()
	return a, nil
}

func (b *Bridge) stopAnalysis(a *Analysis) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.analysis != a {
		return
	}
	b.interruptLocked()
	b.finishAnalysisLocked(nil)
}
