package openingbook

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/park285/cheese-board/internal/chess/rules"
)

func TestOpenEmptyPath(t *testing.T) {
	b, err := Open("  ")
	if err != nil || b != nil {
		t.Fatalf("Open(\"\") = %v, %v", b, err)
	}
	mv, ok, err := b.Lookup(rules.StartingPosition, 0, rand.New(rand.NewSource(1)))
	if ok || err != nil || mv != (rules.Move{}) {
		t.Fatalf("nil book lookup = %v, %v, %v", mv, ok, err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open("/nonexistent/book.bin"); err == nil {
		t.Fatalf("expected error for missing book")
	}
}

func TestName(t *testing.T) {
	op, ok := Name(rules.StartingPosition, []string{"e2e4", "c7c5"})
	if !ok {
		t.Fatalf("no opening for 1.e4 c5")
	}
	if !strings.Contains(op.Title, "Sicilian") || !strings.HasPrefix(op.Code, "B") {
		t.Fatalf("opening = %+v", op)
	}

	if _, ok := Name(rules.StartingPosition, nil); ok {
		t.Fatalf("empty game has a name")
	}
	if _, ok := Name("8/8/8/8/8/8/4k3/4K3 w - - 0 1", []string{"e1d1"}); ok {
		t.Fatalf("custom start position has a name")
	}
	if _, ok := Name(rules.StartingPosition, []string{"e2e5"}); ok {
		t.Fatalf("illegal line has a name")
	}
}
