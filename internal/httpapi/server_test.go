package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/cheese-board/internal/chess/rules"
	"github.com/park285/cheese-board/internal/chess/session"
	"github.com/park285/cheese-board/internal/chess/uci"
	"github.com/park285/cheese-board/internal/service/game"
	"github.com/park285/cheese-board/pkg/chessdto"
)

func newGameService(t *testing.T) *game.Service {
	t.Helper()
	svc, err := game.NewService(rules.NewBoardOracle(), nil, nil, nil, game.Config{TickInterval: 10 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Shutdown)
	return svc
}

// serve runs games behind an in-memory listener and returns a client bound to it.
func serve(t *testing.T, games Games) (*Client, *fasthttp.Client) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := NewServer(games, WithRequestTimeout(2*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	dial := func(string) (net.Conn, error) { return ln.Dial() }
	return NewClient("http://cheese.test", WithDialer(dial), WithRetry(1)), &fasthttp.Client{Dial: dial}
}

func TestGameLifecycleOverHTTP(t *testing.T) {
	client, _ := serve(t, newGameService(t))
	ctx := context.Background()

	g, err := client.CreateGame(ctx, chessdto.CreateGameRequest{Mode: "local"})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if g.Turn != "white" || !g.Active || len(g.Moves) != 0 {
		t.Fatalf("new game = %+v", g)
	}

	resp, err := client.Move(ctx, g.ID, "e2e4")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if resp.Move.SAN != "e4" || resp.Game.Turn != "black" {
		t.Fatalf("move response = %+v", resp.Move)
	}

	_, err = client.Move(ctx, g.ID, "e2e4")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != "illegal_move" {
		t.Fatalf("illegal move err = %v", err)
	}
	if !errors.Is(err, rules.ErrIllegalMove) {
		t.Fatalf("status error does not map back to sentinel: %v", err)
	}

	dests, err := client.Selectable(ctx, g.ID, "g8")
	if err != nil {
		t.Fatalf("Selectable: %v", err)
	}
	if len(dests) != 2 {
		t.Fatalf("g8 destinations = %v", dests)
	}

	if _, err := client.Move(ctx, g.ID, "e7e5"); err != nil {
		t.Fatalf("Move e5: %v", err)
	}

	view, err := client.Navigate(ctx, g.ID, 0)
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if view.Cursor != 0 || view.FEN != resp.Move.FEN {
		t.Fatalf("navigated view cursor=%d fen=%s", view.Cursor, view.FEN)
	}
	if _, err := client.Navigate(ctx, g.ID, 9); !errors.Is(err, session.ErrNavigationOutOfRange) {
		t.Fatalf("navigate past end = %v", err)
	}
	if _, err := client.Navigate(ctx, g.ID, 1); err != nil {
		t.Fatalf("Navigate back: %v", err)
	}

	pgn, err := client.PGN(ctx, g.ID)
	if err != nil {
		t.Fatalf("PGN: %v", err)
	}
	if !strings.Contains(pgn, "1. e4 e5") {
		t.Fatalf("pgn = %q", pgn)
	}

	view, err = client.Resign(ctx, g.ID, "")
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if view.Active || view.Result != "0-1" || view.Method != "resignation" {
		t.Fatalf("after resign = %+v", view)
	}
	if _, err := client.Move(ctx, g.ID, "g1f3"); !errors.Is(err, session.ErrGameOver) {
		t.Fatalf("move after resign = %v", err)
	}

	var archived []chessdto.ArchivedGameView
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		archived, err = client.Archive(ctx, 5)
		if err != nil {
			t.Fatalf("Archive: %v", err)
		}
		if len(archived) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(archived) != 1 || archived[0].SessionID != g.ID {
		t.Fatalf("archive = %+v", archived)
	}
	one, err := client.ArchivedGame(ctx, archived[0].ID)
	if err != nil {
		t.Fatalf("ArchivedGame: %v", err)
	}
	if strings.Join(one.MovesSAN, " ") != "e4 e5" {
		t.Fatalf("archived moves = %v", one.MovesSAN)
	}
	if _, err := client.ArchivedGame(ctx, archived[0].ID+100); !errors.Is(err, game.ErrGameNotFound) {
		t.Fatalf("missing archive entry = %v", err)
	}

	if err := client.CloseGame(ctx, g.ID); err != nil {
		t.Fatalf("CloseGame: %v", err)
	}
	if _, err := client.Game(ctx, g.ID); !errors.Is(err, game.ErrSessionNotFound) {
		t.Fatalf("closed game lookup = %v", err)
	}
}

func TestUndoAndDrawOverHTTP(t *testing.T) {
	client, _ := serve(t, newGameService(t))
	ctx := context.Background()

	g, err := client.CreateGame(ctx, chessdto.CreateGameRequest{
		Mode:  "local",
		Timer: &chessdto.TimerRequest{InitialSeconds: 300, IncrementSeconds: 2},
	})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if g.Clock == nil || g.Clock.TimeControl != "300+2" {
		t.Fatalf("clock = %+v", g.Clock)
	}
	if _, err := client.Undo(ctx, g.ID); !errors.Is(err, session.ErrUndoUnavailable) {
		t.Fatalf("undo on empty history = %v", err)
	}
	if _, err := client.Move(ctx, g.ID, "d2d4"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	view, err := client.Undo(ctx, g.ID)
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if len(view.Moves) != 0 || view.Turn != "white" {
		t.Fatalf("after undo = %+v", view)
	}

	view, err = client.Draw(ctx, g.ID)
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if view.Result != "1/2-1/2" || view.Method != "agreement" {
		t.Fatalf("after draw = %+v", view)
	}
}

func TestCreateRejectsBadRequests(t *testing.T) {
	client, raw := serve(t, newGameService(t))
	ctx := context.Background()

	if _, err := client.CreateGame(ctx, chessdto.CreateGameRequest{Mode: "blitz"}); err == nil {
		t.Fatalf("unknown mode accepted")
	}
	_, err := client.CreateGame(ctx, chessdto.CreateGameRequest{Mode: "vs-engine", Difficulty: "godlike"})
	if !errors.Is(err, game.ErrInvalidConfig) {
		t.Fatalf("bad difficulty = %v", err)
	}
	_, err = client.CreateGame(ctx, chessdto.CreateGameRequest{Mode: "local", FEN: "not a fen"})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != fasthttp.StatusBadRequest {
		t.Fatalf("bad fen = %v", err)
	}

	cases := []struct {
		method, path, body string
		status             int
	}{
		{fasthttp.MethodGet, "/nowhere", "", fasthttp.StatusNotFound},
		{fasthttp.MethodPut, "/games", "", fasthttp.StatusMethodNotAllowed},
		{fasthttp.MethodPost, "/games", "", fasthttp.StatusBadRequest},
		{fasthttp.MethodPost, "/games", "{", fasthttp.StatusBadRequest},
		{fasthttp.MethodGet, "/games/missing", "", fasthttp.StatusNotFound},
		{fasthttp.MethodGet, "/games/missing/undo", "", fasthttp.StatusMethodNotAllowed},
		{fasthttp.MethodGet, "/games/missing/moves", "", fasthttp.StatusBadRequest},
		{fasthttp.MethodGet, "/archive/abc", "", fasthttp.StatusBadRequest},
		{fasthttp.MethodGet, "/healthz", "", fasthttp.StatusOK},
	}
	for _, tc := range cases {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		req.Header.SetMethod(tc.method)
		req.SetRequestURI("http://cheese.test" + tc.path)
		if tc.body != "" {
			req.SetBodyString(tc.body)
		}
		if err := raw.DoTimeout(req, resp, 2*time.Second); err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		if resp.StatusCode() != tc.status {
			t.Fatalf("%s %s = %d, want %d (%s)", tc.method, tc.path, resp.StatusCode(), tc.status, resp.Body())
		}
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}
}

// cannedAnalysis replays fixed evaluations instead of running an engine.
type cannedAnalysis struct {
	*game.Service
	evals []uci.Evaluation
	err   error
}

func (c cannedAnalysis) Analyze(ctx context.Context, id string, depth int, fn func(uci.Evaluation) bool) error {
	for _, ev := range c.evals {
		if !fn(ev) {
			return nil
		}
	}
	return c.err
}

func (c cannedAnalysis) Evaluate(ctx context.Context, id string) (uci.Evaluation, error) {
	return c.evals[len(c.evals)-1], nil
}

func TestAnalysisStreamsEvaluations(t *testing.T) {
	svc := newGameService(t)
	games := cannedAnalysis{Service: svc, evals: []uci.Evaluation{
		{Depth: 1, Centipawns: 20, Pawns: 0.2},
		{Depth: 2, Centipawns: 35, Pawns: 0.35},
		{Depth: 3, Mate: true, MateIn: 4},
	}}
	client, _ := serve(t, games)
	ctx := context.Background()

	g, err := client.CreateGame(ctx, chessdto.CreateGameRequest{Mode: "local"})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	var depths []int
	err = client.Analyze(ctx, g.ID, 3, func(ev chessdto.EvaluationView) bool {
		depths = append(depths, ev.Depth)
		return true
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(depths) != 3 || depths[2] != 3 {
		t.Fatalf("depths = %v", depths)
	}

	var first int
	err = client.Analyze(ctx, g.ID, -1, func(ev chessdto.EvaluationView) bool {
		first = ev.Depth
		return false
	})
	if err != nil || first != 1 {
		t.Fatalf("early stop: depth=%d err=%v", first, err)
	}

	ev, err := client.Evaluation(ctx, g.ID)
	if err != nil {
		t.Fatalf("Evaluation: %v", err)
	}
	if !ev.Mate || ev.MateIn != 4 || ev.WhitePercent != 100 {
		t.Fatalf("evaluation = %+v", ev)
	}

	if err := client.Analyze(ctx, "missing", 3, func(chessdto.EvaluationView) bool { return true }); !errors.Is(err, game.ErrSessionNotFound) {
		t.Fatalf("missing session = %v", err)
	}
}

func TestAnalysisWithoutEngineReportsError(t *testing.T) {
	client, _ := serve(t, newGameService(t))
	ctx := context.Background()

	g, err := client.CreateGame(ctx, chessdto.CreateGameRequest{Mode: "local"})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	err = client.Analyze(ctx, g.ID, 5, func(chessdto.EvaluationView) bool { return true })
	if !errors.Is(err, uci.ErrEngineUnavailable) {
		t.Fatalf("analysis without engine = %v", err)
	}
	if _, err := client.Evaluation(ctx, g.ID); !errors.Is(err, uci.ErrEngineUnavailable) {
		t.Fatalf("evaluation without engine = %v", err)
	}
	if _, err := client.Hint(ctx, g.ID); !errors.Is(err, uci.ErrEngineUnavailable) {
		t.Fatalf("hint without engine = %v", err)
	}
}

func TestRouterErrorsAreJSON(t *testing.T) {
	_, raw := serve(t, newGameService(t))

	cases := []struct {
		method, path string
		status       int
		code         string
	}{
		{fasthttp.MethodGet, "/games/abc/nowhere", fasthttp.StatusNotFound, "not_found"},
		{fasthttp.MethodDelete, "/games/abc/pgn", fasthttp.StatusMethodNotAllowed, "method_not_allowed"},
		{fasthttp.MethodPost, "/archive", fasthttp.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tc := range cases {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		req.Header.SetMethod(tc.method)
		req.SetRequestURI("http://cheese.test" + tc.path)
		if err := raw.DoTimeout(req, resp, 2*time.Second); err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		if resp.StatusCode() != tc.status {
			t.Fatalf("%s %s = %d, want %d", tc.method, tc.path, resp.StatusCode(), tc.status)
		}
		var body chessdto.ErrorResponse
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			t.Fatalf("%s %s body %q: %v", tc.method, tc.path, resp.Body(), err)
		}
		if body.Code != tc.code {
			t.Fatalf("%s %s code = %q, want %q", tc.method, tc.path, body.Code, tc.code)
		}
		if tc.status == fasthttp.StatusMethodNotAllowed && len(resp.Header.Peek("Allow")) == 0 {
			t.Fatalf("%s %s: missing Allow header", tc.method, tc.path)
		}
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}
}
