package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidPosition = errors.New("invalid position")
	ErrInvalidMove     = errors.New("invalid move notation")
	ErrIllegalMove     = errors.New("illegal move")
)

// Position is a FEN snapshot. Values are never mutated; every move yields a new one.
type Position string

const StartingPosition Position = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type Color int8

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Color) UnmarshalText(b []byte) error {
	parsed, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	default:
		return White, fmt.Errorf("unknown color: %q", s)
	}
}

func (p Position) String() string { return string(p) }

func (p Position) fields() ([]string, error) {
	parts := strings.Fields(string(p))
	if len(parts) != 6 {
		return nil, fmt.Errorf("%w: expected 6 fields, got %d", ErrInvalidPosition, len(parts))
	}
	return parts, nil
}

// Turn returns the side to move. Malformed positions report White.
func (p Position) Turn() Color {
	parts, err := p.fields()
	if err != nil || parts[1] != "b" {
		return White
	}
	return Black
}

// HalfmoveClock returns the fifty-move counter, or 0 when unreadable.
func (p Position) HalfmoveClock() int {
	parts, err := p.fields()
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(parts[4])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// RepetitionKey drops the move counters so identical placements compare equal.
func (p Position) RepetitionKey() string {
	parts, err := p.fields()
	if err != nil {
		return string(p)
	}
	return strings.Join(parts[:4], " ")
}

// Move is a move in long algebraic form.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

func (m Move) String() string {
	return m.From + m.To + m.Promotion
}

func (m Move) IsZero() bool { return m.From == "" && m.To == "" }

// ParseMove reads a four- or five-character move such as e2e4 or e7e8q.
func ParseMove(s string) (Move, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if len(raw) != 4 && len(raw) != 5 {
		return Move{}, fmt.Errorf("%w: %q", ErrInvalidMove, s)
	}
	mv := Move{From: raw[0:2], To: raw[2:4]}
	if !ValidSquare(mv.From) || !ValidSquare(mv.To) {
		return Move{}, fmt.Errorf("%w: %q", ErrInvalidMove, s)
	}
	if len(raw) == 5 {
		switch raw[4] {
		case 'q', 'r', 'b', 'n':
			mv.Promotion = raw[4:5]
		default:
			return Move{}, fmt.Errorf("%w: bad promotion in %q", ErrInvalidMove, s)
		}
	}
	return mv, nil
}

// NewMove normalizes the parts and validates them like ParseMove.
func NewMove(from, to, promotion string) (Move, error) {
	return ParseMove(strings.TrimSpace(from) + strings.TrimSpace(to) + strings.TrimSpace(promotion))
}

func ValidSquare(sq string) bool {
	if len(sq) != 2 {
		return false
	}
	return sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}
