package uci

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeEngine answers UCI commands over in-memory pipes. handle decides the reply
// to each line; reply writes to the bridge.
type fakeEngine struct {
	t      *testing.T
	handle func(e *fakeEngine, line string)

	mu       sync.Mutex
	received []string
	dials    int
	out      io.Writer

	lines chan string
}

func newFakeEngine(t *testing.T, handle func(e *fakeEngine, line string)) *fakeEngine {
	t.Helper()
	if handle == nil {
		handle = respondInstantly("e2e4", "info depth 1 score cp 20 pv e2e4")
	}
	return &fakeEngine{t: t, handle: handle, lines: make(chan string, 256)}
}

func (e *fakeEngine) dialer() Dialer {
	return func(ctx context.Context) (Conn, error) {
		toEngineR, toEngineW := io.Pipe()
		toBridgeR, toBridgeW := io.Pipe()

		e.mu.Lock()
		e.dials++
		e.out = toBridgeW
		e.mu.Unlock()

		go func() {
			sc := bufio.NewScanner(toEngineR)
			for sc.Scan() {
				line := sc.Text()
				e.mu.Lock()
				e.received = append(e.received, line)
				e.mu.Unlock()
				select {
				case e.lines <- line:
				default:
				}
				e.handle(e, line)
			}
			_ = toBridgeW.Close()
		}()

		closeFn := func() error {
			_ = toEngineW.Close()
			_ = toBridgeR.Close()
			return nil
		}
		return NewStreamConn(toBridgeR, toEngineW, closeFn), nil
	}
}

func (e *fakeEngine) reply(lines ...string) {
	e.mu.Lock()
	w := e.out
	e.mu.Unlock()
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return
		}
	}
}

func (e *fakeEngine) sent(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, line := range e.received {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

func (e *fakeEngine) dialCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dials
}

// waitFor blocks until the engine reads a line starting with prefix.
func (e *fakeEngine) waitFor(prefix string) string {
	e.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line := <-e.lines:
			if strings.HasPrefix(line, prefix) {
				return line
			}
		case <-timeout:
			e.t.Fatalf("engine never received %q", prefix)
			return ""
		}
	}
}

func handshakeReply(e *fakeEngine, line string) bool {
	switch line {
	case "uci":
		e.reply("id name Fake 1.0", "id author tests", "uciok")
		return true
	case "isready":
		e.reply("readyok")
		return true
	}
	return false
}

func respondInstantly(best string, infos ...string) func(e *fakeEngine, line string) {
	return func(e *fakeEngine, line string) {
		if handshakeReply(e, line) {
			return
		}
		if strings.HasPrefix(line, "go") {
			e.reply(infos...)
			e.reply("bestmove " + best)
		}
	}
}

func newTestBridge(t *testing.T, e *fakeEngine, cfg Config) *Bridge {
	t.Helper()
	b, err := NewBridge(e.dialer(), cfg)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	t.Cleanup(b.Dispose)
	return b
}

func readyBridge(t *testing.T, e *fakeEngine, cfg Config) *Bridge {
	t.Helper()
	b := newTestBridge(t, e, cfg)
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return b
}
