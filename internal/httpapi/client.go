package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-board/pkg/chessdto"
)

// Client talks to a cheese-board server.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	stream  *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type ClientOption func(*Client)

func WithClientTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) ClientOption {
	return func(c *Client) { c.retryMax = max }
}

// WithDialer replaces the TCP dialer, e.g. with an in-memory listener.
func WithDialer(dial fasthttp.DialFunc) ClientOption {
	return func(c *Client) {
		c.http.Dial = dial
		c.stream.Dial = dial
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		stream:         &fasthttp.Client{WriteTimeout: 10 * time.Second, StreamResponseBody: true},
		defaultTimeout: 30 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateGame(ctx context.Context, req chessdto.CreateGameRequest) (*chessdto.GameView, error) {
	var out chessdto.GameView
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Game(ctx context.Context, id string) (*chessdto.GameView, error) {
	var out chessdto.GameView
	if err := c.doJSON(ctx, fasthttp.MethodGet, gamePath(id, ""), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Move plays a long-algebraic move such as "e2e4" or "e7e8q".
func (c *Client) Move(ctx context.Context, id, move string) (*chessdto.MoveResponse, error) {
	var out chessdto.MoveResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, gamePath(id, "moves"), chessdto.MoveRequest{Move: move}, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Selectable(ctx context.Context, id, square string) ([]string, error) {
	var out chessdto.SelectableResponse
	path := gamePath(id, "moves") + "?square=" + url.QueryEscape(square)
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Destinations, nil
}

func (c *Client) Undo(ctx context.Context, id string) (*chessdto.GameView, error) {
	return c.postState(ctx, gamePath(id, "undo"), struct{}{})
}

func (c *Client) Navigate(ctx context.Context, id string, ply int) (*chessdto.GameView, error) {
	return c.postState(ctx, gamePath(id, "navigate"), chessdto.NavigateRequest{Ply: ply})
}

func (c *Client) Resign(ctx context.Context, id, side string) (*chessdto.GameView, error) {
	return c.postState(ctx, gamePath(id, "resign"), chessdto.ResignRequest{Side: side})
}

func (c *Client) Draw(ctx context.Context, id string) (*chessdto.GameView, error) {
	return c.postState(ctx, gamePath(id, "draw"), struct{}{})
}

func (c *Client) Hint(ctx context.Context, id string) (string, error) {
	var out chessdto.HintResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, gamePath(id, "hint"), struct{}{}, &out, false); err != nil {
		return "", err
	}
	return out.Move, nil
}

func (c *Client) Evaluation(ctx context.Context, id string) (*chessdto.EvaluationView, error) {
	var out chessdto.EvaluationView
	if err := c.doJSON(ctx, fasthttp.MethodGet, gamePath(id, "evaluation"), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PGN(ctx context.Context, id string) (string, error) {
	body, err := c.do(ctx, fasthttp.MethodGet, gamePath(id, "pgn"), nil, true)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) CloseGame(ctx context.Context, id string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, gamePath(id, ""), nil, nil, false)
}

func (c *Client) Archive(ctx context.Context, limit int) ([]chessdto.ArchivedGameView, error) {
	var out []chessdto.ArchivedGameView
	path := "/archive"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ArchivedGame(ctx context.Context, id int64) (*chessdto.ArchivedGameView, error) {
	var out chessdto.ArchivedGameView
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/archive/"+strconv.FormatInt(id, 10), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Analyze reads the analysis event stream and hands each evaluation to fn
// until fn returns false or the server ends the stream.
func (c *Client) Analyze(ctx context.Context, id string, depth int, fn func(chessdto.EvaluationView) bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + gamePath(id, "analysis") + "?depth=" + strconv.Itoa(depth))
	req.Header.Set("Accept", "text/event-stream")

	if dl, ok := ctx.Deadline(); ok {
		if err := c.stream.DoDeadline(req, resp, dl); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
	} else if err := c.stream.Do(req, resp); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.CloseBodyStream() }()

	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		return decodeStatusError(status, resp.Body())
	}

	stream := resp.BodyStream()
	if stream == nil {
		return decodeEvents(ctx, bufio.NewScanner(bytes.NewReader(resp.Body())), fn)
	}
	return decodeEvents(ctx, bufio.NewScanner(stream), fn)
}

func decodeEvents(ctx context.Context, sc *bufio.Scanner, fn func(chessdto.EvaluationView) bool) error {
	var event string
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := []byte(strings.TrimPrefix(line, "data: "))
			switch event {
			case "evaluation":
				var ev chessdto.EvaluationView
				if err := json.Unmarshal(data, &ev); err != nil {
					return fmt.Errorf("decode evaluation: %w", err)
				}
				if !fn(ev) {
					return nil
				}
			case "error":
				var er chessdto.ErrorResponse
				if err := json.Unmarshal(data, &er); err != nil {
					return fmt.Errorf("decode error event: %w", err)
				}
				return &StatusError{Code: er.Code, Msg: er.Error}
			case "done":
				return nil
			}
		}
	}
	return sc.Err()
}

func (c *Client) postState(ctx context.Context, path string, in any) (*chessdto.GameView, error) {
	var out chessdto.GameView
	if err := c.doJSON(ctx, fasthttp.MethodPost, path, in, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func gamePath(id, action string) string {
	p := "/games/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	body, err := c.do(ctx, method, path, payload, retry)
	if err != nil {
		return err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// do sends one request, retrying transport errors and 5xx answers when retry
// is set. Only idempotent calls retry.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, retry bool) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if payload != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	attempts := 1
	if retry {
		attempts = c.retryMax
		if attempts <= 0 {
			attempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			if attempt == attempts {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			lastErr = err
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return nil, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			err := decodeStatusError(status, resp.Body())
			if attempt == attempts || !shouldRetryStatus(status) {
				return nil, err
			}
			lastErr = err
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return nil, lastErr
			}
			continue
		}
		return append([]byte(nil), resp.Body()...), nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return nil, lastErr
}

func decodeStatusError(status int, body []byte) error {
	var er chessdto.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Code == "" {
		return &StatusError{Status: status, Msg: truncate(string(body), 512)}
	}
	return &StatusError{Status: status, Code: er.Code, Msg: er.Error}
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func (c *Client) sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
