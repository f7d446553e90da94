package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/chess/rules"
	"github.com/park285/cheese-board/internal/chess/session"
	"github.com/park285/cheese-board/internal/chess/uci"
	"github.com/park285/cheese-board/internal/domain"
	"github.com/park285/cheese-board/pkg/chessdto"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxBodySize           = 64 << 10
)

// Games is the game service as seen by the API.
type Games interface {
	Create(ctx context.Context, cfg session.Config) (session.State, error)
	State(ctx context.Context, id string) (session.State, error)
	Move(ctx context.Context, id, from, to, promotion string) (session.MoveRecord, session.State, error)
	Undo(ctx context.Context, id string) (session.State, error)
	Navigate(ctx context.Context, id string, ply int) (session.State, error)
	Resign(ctx context.Context, id, side string) (session.State, error)
	Draw(ctx context.Context, id string) (session.State, error)
	Selectable(ctx context.Context, id, square string) ([]string, error)
	Hint(ctx context.Context, id string) (rules.Move, error)
	Evaluate(ctx context.Context, id string) (uci.Evaluation, error)
	Analyze(ctx context.Context, id string, depth int, fn func(uci.Evaluation) bool) error
	PGN(ctx context.Context, id string) (string, error)
	Close(ctx context.Context, id string) error
	Archive(ctx context.Context, limit int) ([]*domain.ArchivedGame, error)
	ArchivedGame(ctx context.Context, id int64) (*domain.ArchivedGame, error)
}

type Server struct {
	games   Games
	logger  *zap.Logger
	timeout time.Duration
	srv     *fasthttp.Server
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewServer(games Games, opts ...Option) *Server {
	s := &Server{
		games:   games,
		logger:  zap.NewNop(),
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &fasthttp.Server{
		Handler:               s.Handler(),
		Name:                  "cheese-board",
		ReadTimeout:           15 * time.Second,
		MaxRequestBodySize:    maxBodySize,
		NoDefaultServerHeader: true,
		CloseOnShutdown:       true,
	}
	return s
}

// Serve accepts on ln until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	s.logger.Info("http_listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Handler routes /games and /archive requests.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := s.router()
	return func(rc *fasthttp.RequestCtx) {
		started := time.Now()
		r.Handler(rc)
		s.logger.Debug("http_request",
			zap.ByteString("method", rc.Method()),
			zap.ByteString("path", rc.Path()),
			zap.Int("status", rc.Response.StatusCode()),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
}

func (s *Server) router() *router.Router {
	r := router.New()
	r.NotFound = func(rc *fasthttp.RequestCtx) {
		writeError(rc, fasthttp.StatusNotFound, "not_found", "no such route")
	}
	r.MethodNotAllowed = func(rc *fasthttp.RequestCtx) {
		writeError(rc, fasthttp.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}

	r.GET("/healthz", func(rc *fasthttp.RequestCtx) {
		writeJSON(rc, fasthttp.StatusOK, map[string]string{"status": "ok"})
	})

	r.POST("/games", s.createGame)
	r.GET("/games/{id}", withID(s.getGame))
	r.DELETE("/games/{id}", withID(s.closeGame))
	r.POST("/games/{id}/moves", withID(s.move))
	r.GET("/games/{id}/moves", withID(s.selectable))
	r.POST("/games/{id}/undo", withID(s.undo))
	r.POST("/games/{id}/navigate", withID(s.navigate))
	r.POST("/games/{id}/resign", withID(s.resign))
	r.POST("/games/{id}/draw", withID(s.draw))
	r.POST("/games/{id}/hint", withID(s.hint))
	r.GET("/games/{id}/evaluation", withID(s.evaluate))
	r.GET("/games/{id}/analysis", withID(s.analysis))
	r.GET("/games/{id}/pgn", withID(s.pgn))

	r.GET("/archive", s.listArchive)
	r.GET("/archive/{id}", s.archivedGame)
	return r
}

func withID(h func(*fasthttp.RequestCtx, string)) fasthttp.RequestHandler {
	return func(rc *fasthttp.RequestCtx) {
		id, _ := rc.UserValue("id").(string)
		h(rc, id)
	}
}

func (s *Server) listArchive(rc *fasthttp.RequestCtx) {
	ctx, cancel := s.requestContext()
	defer cancel()

	limit := rc.QueryArgs().GetUintOrZero("limit")
	games, err := s.games.Archive(ctx, limit)
	if err != nil {
		s.fail(rc, err)
		return
	}
	out := make([]chessdto.ArchivedGameView, len(games))
	for i, g := range games {
		out[i] = newArchivedGameView(g)
	}
	writeJSON(rc, fasthttp.StatusOK, out)
}

func (s *Server) archivedGame(rc *fasthttp.RequestCtx) {
	raw, _ := rc.UserValue("id").(string)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(rc, fasthttp.StatusBadRequest, "bad_request", "archive id must be numeric")
		return
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	g, err := s.games.ArchivedGame(ctx, id)
	if err != nil {
		s.fail(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, newArchivedGameView(g))
}

func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Server) createGame(rc *fasthttp.RequestCtx) {
	var req chessdto.CreateGameRequest
	if !decodeBody(rc, &req) {
		return
	}
	cfg, err := sessionConfig(req)
	if err != nil {
		writeError(rc, fasthttp.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	st, err := s.games.Create(ctx, cfg)
	if err != nil {
		s.fail(rc, err)
		return
	}
	rc.Response.Header.Set("Location", "/games/"+st.ID)
	writeJSON(rc, fasthttp.StatusCreated, newGameView(st))
}

func (s *Server) getGame(rc *fasthttp.RequestCtx, id string) {
	s.respondState(rc, func(ctx context.Context) (session.State, error) {
		return s.games.State(ctx, id)
	})
}

func (s *Server) move(rc *fasthttp.RequestCtx, id string) {
	var req chessdto.MoveRequest
	if !decodeBody(rc, &req) {
		return
	}
	if req.Move != "" {
		mv, err := rules.ParseMove(req.Move)
		if err != nil {
			writeError(rc, fasthttp.StatusBadRequest, "illegal_move", err.Error())
			return
		}
		req.From, req.To, req.Promotion = mv.From, mv.To, mv.Promotion
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	rec, st, err := s.games.Move(ctx, id, req.From, req.To, req.Promotion)
	if err != nil {
		s.fail(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, chessdto.MoveResponse{Move: newMoveView(rec), Game: newGameView(st)})
}

func (s *Server) selectable(rc *fasthttp.RequestCtx, id string) {
	square := string(rc.QueryArgs().Peek("square"))
	if square == "" {
		writeError(rc, fasthttp.StatusBadRequest, "bad_request", "square is required")
		return
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	dests, err := s.games.Selectable(ctx, id, square)
	if err != nil {
		s.fail(rc, err)
		return
	}
	if dests == nil {
		dests = []string{}
	}
	writeJSON(rc, fasthttp.StatusOK, chessdto.SelectableResponse{Square: square, Destinations: dests})
}

func (s *Server) undo(rc *fasthttp.RequestCtx, id string) {
	s.respondState(rc, func(ctx context.Context) (session.State, error) {
		return s.games.Undo(ctx, id)
	})
}

func (s *Server) navigate(rc *fasthttp.RequestCtx, id string) {
	var req chessdto.NavigateRequest
	if !decodeBody(rc, &req) {
		return
	}
	s.respondState(rc, func(ctx context.Context) (session.State, error) {
		return s.games.Navigate(ctx, id, req.Ply)
	})
}

func (s *Server) resign(rc *fasthttp.RequestCtx, id string) {
	var req chessdto.ResignRequest
	if len(rc.PostBody()) > 0 && !decodeBody(rc, &req) {
		return
	}
	s.respondState(rc, func(ctx context.Context) (session.State, error) {
		return s.games.Resign(ctx, id, req.Side)
	})
}

func (s *Server) draw(rc *fasthttp.RequestCtx, id string) {
	s.respondState(rc, func(ctx context.Context) (session.State, error) {
		return s.games.Draw(ctx, id)
	})
}

func (s *Server) hint(rc *fasthttp.RequestCtx, id string) {
	ctx, cancel := s.requestContext()
	defer cancel()
	mv, err := s.games.Hint(ctx, id)
	if err != nil {
		s.fail(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, chessdto.HintResponse{Move: mv.String()})
}

func (s *Server) evaluate(rc *fasthttp.RequestCtx, id string) {
	ctx, cancel := s.requestContext()
	defer cancel()
	ev, err := s.games.Evaluate(ctx, id)
	if err != nil {
		s.fail(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, newEvaluationView(ev))
}

func (s *Server) pgn(rc *fasthttp.RequestCtx, id string) {
	ctx, cancel := s.requestContext()
	defer cancel()
	text, err := s.games.PGN(ctx, id)
	if err != nil {
		s.fail(rc, err)
		return
	}
	rc.SetStatusCode(fasthttp.StatusOK)
	rc.SetContentType("application/x-chess-pgn; charset=utf-8")
	rc.SetBodyString(text)
}

func (s *Server) closeGame(rc *fasthttp.RequestCtx, id string) {
	ctx, cancel := s.requestContext()
	defer cancel()
	if err := s.games.Close(ctx, id); err != nil {
		s.fail(rc, err)
		return
	}
	rc.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Server) respondState(rc *fasthttp.RequestCtx, fn func(ctx context.Context) (session.State, error)) {
	ctx, cancel := s.requestContext()
	defer cancel()
	st, err := fn(ctx)
	if err != nil {
		s.fail(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, newGameView(st))
}

func (s *Server) fail(rc *fasthttp.RequestCtx, err error) {
	status, code := classify(err)
	if status >= fasthttp.StatusInternalServerError {
		s.logger.Warn("http_error",
			zap.ByteString("path", rc.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(rc, status, code, err.Error())
}

func decodeBody(rc *fasthttp.RequestCtx, v any) bool {
	body := rc.PostBody()
	if len(body) == 0 {
		writeError(rc, fasthttp.StatusBadRequest, "bad_request", "request body is required")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(rc, fasthttp.StatusBadRequest, "bad_request", "decode body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		rc.Error("encode response", fasthttp.StatusInternalServerError)
		return
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json")
	rc.SetBody(payload)
}

func writeError(rc *fasthttp.RequestCtx, status int, code, msg string) {
	writeJSON(rc, status, chessdto.ErrorResponse{Error: msg, Code: code})
}
