package httpapi

import (
	"time"

	"github.com/park285/cheese-board/internal/chess/rules"
	"github.com/park285/cheese-board/internal/chess/session"
	"github.com/park285/cheese-board/internal/chess/uci"
	"github.com/park285/cheese-board/internal/domain"
	"github.com/park285/cheese-board/pkg/chessdto"
)

func sessionConfig(r chessdto.CreateGameRequest) (session.Config, error) {
	mode, err := session.ParseMode(r.Mode)
	if err != nil {
		return session.Config{}, err
	}
	cfg := session.Config{
		Mode:       mode,
		Difficulty: r.Difficulty,
		Initial:    rules.Position(r.FEN),
		PlayerSide: rules.White,
	}
	if r.PlayerSide != "" {
		side, err := rules.ParseColor(r.PlayerSide)
		if err != nil {
			return session.Config{}, err
		}
		cfg.PlayerSide = side
	}
	if r.Timer != nil {
		cfg.Timer = &session.Timer{
			Initial:   seconds(r.Timer.InitialSeconds),
			Increment: seconds(r.Timer.IncrementSeconds),
		}
	}
	return cfg, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func newGameView(st session.State) chessdto.GameView {
	v := chessdto.GameView{
		ID:          st.ID,
		Mode:        string(st.Config.Mode),
		Difficulty:  st.Config.Difficulty,
		FEN:         string(st.Position),
		LiveFEN:     string(st.LivePosition),
		Turn:        st.Turn.String(),
		Cursor:      st.Cursor,
		Moves:       make([]chessdto.MoveView, len(st.History)),
		Active:      st.Active,
		Result:      string(st.Result.Outcome),
		Method:      string(st.Result.Method),
		InCheck:     st.InCheck,
		CheckSquare: st.KingSquare,
		Material:    chessdto.MaterialScore{White: st.Material.White, Black: st.Material.Black},
		Version:     st.Version,
	}
	if st.Config.Mode == session.ModeVsEngine {
		v.PlayerSide = st.Config.PlayerSide.String()
	}
	for i, rec := range st.History {
		v.Moves[i] = newMoveView(rec)
	}
	if st.LastMove != nil {
		last := newMoveView(*st.LastMove)
		v.LastMove = &last
	}
	if st.Clock.Enabled {
		v.Clock = &chessdto.ClockView{
			WhiteMS:     st.Clock.White.Milliseconds(),
			BlackMS:     st.Clock.Black.Milliseconds(),
			IncrementMS: st.Clock.Increment.Milliseconds(),
			TimeControl: st.Config.Timer.TimeControl(),
		}
	}
	return v
}

func newMoveView(rec session.MoveRecord) chessdto.MoveView {
	return chessdto.MoveView{
		Ply:       rec.Ply,
		Side:      rec.Side.String(),
		From:      rec.From,
		To:        rec.To,
		Promotion: rec.Promotion,
		UCI:       rec.UCI,
		SAN:       rec.SAN,
		FEN:       string(rec.Position),
		Check:     rec.Check,
		Capture:   rec.Capture,
	}
}

func newEvaluationView(ev uci.Evaluation) chessdto.EvaluationView {
	return chessdto.EvaluationView{
		Depth:        ev.Depth,
		Centipawns:   ev.Centipawns,
		Pawns:        ev.Pawns,
		Mate:         ev.Mate,
		MateIn:       ev.MateIn,
		PV:           ev.PV,
		BestMove:     ev.BestMove,
		WhitePercent: ev.WhitePercent(),
	}
}

func newArchivedGameView(g *domain.ArchivedGame) chessdto.ArchivedGameView {
	return chessdto.ArchivedGameView{
		ID:          g.ID,
		SessionID:   g.SessionID,
		Mode:        g.Mode,
		Difficulty:  g.Difficulty,
		PlayerSide:  g.PlayerSide,
		InitialFEN:  g.InitialFEN,
		Result:      g.Result,
		Method:      g.ResultMethod,
		MovesUCI:    g.MovesUCI,
		MovesSAN:    g.MovesSAN,
		PGN:         g.PGN,
		OpeningECO:  g.OpeningECO,
		OpeningName: g.OpeningName,
		StartedAt:   g.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:     g.EndedAt.UTC().Format(time.RFC3339),
		DurationMS:  g.Duration.Milliseconds(),
	}
}
