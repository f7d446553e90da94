package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/chess/uci"
	"github.com/park285/cheese-board/pkg/chessdto"
)

const maxAnalysisStream = 10 * time.Minute

// analysis streams engine evaluations as server-sent events. depth may be
// omitted (server default) or negative (run until the client disconnects).
func (s *Server) analysis(rc *fasthttp.RequestCtx, id string) {
	depth := 0
	if raw := string(rc.QueryArgs().Peek("depth")); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			writeError(rc, fasthttp.StatusBadRequest, "bad_request", "depth must be an integer")
			return
		}
		depth = d
	}

	// Resolve the session up front so a missing game is a plain 404.
	checkCtx, cancel := s.requestContext()
	_, err := s.games.State(checkCtx, id)
	cancel()
	if err != nil {
		s.fail(rc, err)
		return
	}

	rc.SetStatusCode(fasthttp.StatusOK)
	rc.SetContentType("text/event-stream")
	rc.Response.Header.Set("Cache-Control", "no-cache")
	rc.Response.Header.Set("X-Accel-Buffering", "no")

	logger := s.logger.With(zap.String("session", id), zap.Int("depth", depth))
	rc.SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithTimeout(context.Background(), maxAnalysisStream)
		defer cancel()

		err := s.games.Analyze(ctx, id, depth, func(ev uci.Evaluation) bool {
			if werr := writeEvent(w, "evaluation", newEvaluationView(ev)); werr != nil {
				logger.Debug("analysis_client_gone", zap.Error(werr))
				return false
			}
			return true
		})
		if err != nil {
			status, code := classify(err)
			logger.Debug("analysis_failed", zap.Int("status", status), zap.Error(err))
			_ = writeEvent(w, "error", chessdto.ErrorResponse{Error: err.Error(), Code: code})
			return
		}
		_ = writeEvent(w, "done", struct{}{})
	})
}

func writeEvent(w *bufio.Writer, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}
