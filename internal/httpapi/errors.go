package httpapi

import (
	"context"
	"errors"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-board/internal/chess/rules"
	"github.com/park285/cheese-board/internal/chess/session"
	"github.com/park285/cheese-board/internal/chess/uci"
	"github.com/park285/cheese-board/internal/service/game"
)

type errorClass struct {
	target error
	status int
	code   string
}

// Checked in order; the first match wins.
var errorClasses = []errorClass{
	{game.ErrSessionNotFound, fasthttp.StatusNotFound, "session_not_found"},
	{game.ErrGameNotFound, fasthttp.StatusNotFound, "game_not_found"},
	{game.ErrInvalidConfig, fasthttp.StatusBadRequest, "invalid_config"},
	{game.ErrNotYourTurn, fasthttp.StatusConflict, "not_your_turn"},
	{game.ErrServiceClosed, fasthttp.StatusServiceUnavailable, "shutting_down"},
	{rules.ErrInvalidPosition, fasthttp.StatusBadRequest, "invalid_position"},
	{rules.ErrInvalidMove, fasthttp.StatusBadRequest, "invalid_move"},
	{rules.ErrIllegalMove, fasthttp.StatusUnprocessableEntity, "illegal_move"},
	{session.ErrNavigationOutOfRange, fasthttp.StatusBadRequest, "navigation_out_of_range"},
	{session.ErrUndoUnavailable, fasthttp.StatusConflict, "undo_unavailable"},
	{session.ErrGameOver, fasthttp.StatusConflict, "game_over"},
	{session.ErrStalePosition, fasthttp.StatusConflict, "stale_position"},
	{session.ErrClosed, fasthttp.StatusGone, "session_closed"},
	{uci.ErrEngineTimeout, fasthttp.StatusGatewayTimeout, "engine_timeout"},
	{uci.ErrEngineUnavailable, fasthttp.StatusServiceUnavailable, "engine_unavailable"},
	{uci.ErrEngineTerminated, fasthttp.StatusServiceUnavailable, "engine_unavailable"},
	{uci.ErrNotReady, fasthttp.StatusServiceUnavailable, "engine_unavailable"},
	{uci.ErrPoolClosed, fasthttp.StatusServiceUnavailable, "engine_unavailable"},
	{uci.ErrNoMove, fasthttp.StatusBadGateway, "engine_no_move"},
	{uci.ErrNoScore, fasthttp.StatusBadGateway, "engine_no_score"},
	{uci.ErrCanceled, fasthttp.StatusConflict, "engine_canceled"},
}

func classify(err error) (int, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.status, c.code
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fasthttp.StatusGatewayTimeout, "timeout"
	}
	return fasthttp.StatusInternalServerError, "internal"
}

// StatusError is returned by Client for non-2xx responses.
type StatusError struct {
	Status int
	Code   string
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return "cheese-board api: status " + strconv.Itoa(e.Status) + ": " + e.Msg
	}
	return "cheese-board api: " + e.Code + ": " + e.Msg
}

// Is maps the response code back to the sentinel the server classified.
func (e *StatusError) Is(target error) bool {
	for _, c := range errorClasses {
		if c.code == e.Code && c.target == target {
			return true
		}
	}
	return false
}
