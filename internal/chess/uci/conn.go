package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Conn is a line-oriented duplex channel to one engine.
type Conn interface {
	WriteLine(line string) error
	ReadLine() (string, error)
	Close() error
}

// Dialer opens a fresh engine connection. The context bounds only the dial.
type Dialer func(ctx context.Context) (Conn, error)

type streamConn struct {
	r       *bufio.Reader
	wmu     sync.Mutex
	w       io.Writer
	closeFn func() error

	closeOnce sync.Once
	closeErr  error
}

// NewStreamConn wraps a reader/writer pair, e.g. process pipes or io.Pipe in tests.
func NewStreamConn(r io.Reader, w io.Writer, closeFn func() error) Conn {
	return &streamConn{r: bufio.NewReader(r), w: w, closeFn: closeFn}
}

func (c *streamConn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := io.WriteString(c.w, strings.TrimRight(line, "\r\n")+"\n")
	return err
}

func (c *streamConn) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if line != "" && errors.Is(err, io.EOF) {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		if c.closeFn != nil {
			c.closeErr = c.closeFn()
		}
	})
	return c.closeErr
}

// ProcessDialer launches a local engine binary per dial.
func ProcessDialer(binaryPath string, args ...string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		if strings.TrimSpace(binaryPath) == "" {
			return nil, fmt.Errorf("%w: engine path required", ErrEngineUnavailable)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := os.Stat(binaryPath); err != nil {
			return nil, fmt.Errorf("%w: engine binary check: %v", ErrEngineUnavailable, err)
		}

		// the process outlives the dial context
		cmd := exec.Command(binaryPath, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("create stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			stdin.Close()
			return nil, fmt.Errorf("create stdout pipe: %w", err)
		}
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			stdin.Close()
			stdout.Close()
			return nil, fmt.Errorf("%w: start engine: %v", ErrEngineUnavailable, err)
		}

		closeFn := func() error {
			_ = stdin.Close()
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			err := cmd.Wait()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				// killed on purpose
				return nil
			}
			return err
		}
		return NewStreamConn(stdout, stdin, closeFn), nil
	}
}

const wsWriteTimeout = 5 * time.Second

type wsConn struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	// one websocket frame may carry several lines
	pending []string
}

// WebSocketDialer connects to a remote engine that speaks UCI text frames.
func WebSocketDialer(url string, header http.Header) Dialer {
	return func(ctx context.Context) (Conn, error) {
		if strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("%w: engine url required", ErrEngineUnavailable)
		}
		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			CompressionMode: websocket.CompressionNoContextTakeover,
			HTTPHeader:      header,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", ErrEngineUnavailable, url, err)
		}
		conn.SetReadLimit(1 << 20)
		lifetime, cancel := context.WithCancel(context.Background())
		return &wsConn{conn: conn, ctx: lifetime, cancel: cancel}, nil
	}
}

func (c *wsConn) WriteLine(line string) error {
	ctx, cancel := context.WithTimeout(c.ctx, wsWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, []byte(strings.TrimRight(line, "\r\n")))
}

func (c *wsConn) ReadLine() (string, error) {
	for len(c.pending) == 0 {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return "", io.EOF
			}
			return "", err
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimRight(line, "\r")
			if line != "" {
				c.pending = append(c.pending, line)
			}
		}
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

func (c *wsConn) Close() error {
	defer c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
