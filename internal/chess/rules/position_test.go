package rules

import (
	"errors"
	"testing"
)

func TestParseMove(t *testing.T) {
	cases := []struct {
		in   string
		want Move
	}{
		{"e2e4", Move{From: "e2", To: "e4"}},
		{"e7e8q", Move{From: "e7", To: "e8", Promotion: "q"}},
		{" A7A8N ", Move{From: "a7", To: "a8", Promotion: "n"}},
	}
	for _, tc := range cases {
		got, err := ParseMove(tc.in)
		if err != nil {
			t.Fatalf("ParseMove(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseMove(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "e2", "e2e9", "i2i4", "e7e8k", "e2e4qq"} {
		if _, err := ParseMove(bad); !errors.Is(err, ErrInvalidMove) {
			t.Fatalf("ParseMove(%q) expected ErrInvalidMove, got %v", bad, err)
		}
	}
}

func TestPositionFields(t *testing.T) {
	pos := Position("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1")
	if pos.Turn() != Black {
		t.Fatalf("expected black to move")
	}
	if StartingPosition.Turn() != White {
		t.Fatalf("expected white to move")
	}
	if got := Position("8/8/8/8/8/8/8/K6k w - - 42 80").HalfmoveClock(); got != 42 {
		t.Fatalf("halfmove clock: %d", got)
	}
	a := Position("8/8/8/8/8/8/8/K6k w - - 1 10")
	b := Position("8/8/8/8/8/8/8/K6k w - - 5 12")
	if a.RepetitionKey() != b.RepetitionKey() {
		t.Fatalf("repetition keys should ignore counters")
	}
}
