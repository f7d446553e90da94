package rules

import (
	"fmt"
	"sort"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var pieceValues = map[nchess.PieceType]int{
	nchess.Pawn:   1,
	nchess.Knight: 3,
	nchess.Bishop: 3,
	nchess.Rook:   5,
	nchess.Queen:  9,
}

// BoardOracle answers legality questions with corentings/chess. A fresh game is
// loaded from the FEN on every call so nothing is shared between sessions.
type BoardOracle struct{}

func NewBoardOracle() *BoardOracle { return &BoardOracle{} }

func loadGame(pos Position) (*nchess.Game, error) {
	if _, err := pos.fields(); err != nil {
		return nil, err
	}
	opt, err := nchess.FEN(string(pos))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	return nchess.NewGame(opt), nil
}

func (o *BoardOracle) LegalMoves(pos Position) ([]Move, error) {
	game, err := loadGame(pos)
	if err != nil {
		return nil, err
	}
	valid := game.ValidMoves()
	out := make([]Move, 0, len(valid))
	for _, mv := range valid {
		parsed, err := ParseMove(mv.String())
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (o *BoardOracle) Destinations(pos Position, from string) ([]string, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	if !ValidSquare(from) {
		return nil, fmt.Errorf("%w: square %q", ErrInvalidMove, from)
	}
	moves, err := o.LegalMoves(pos)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := make([]string, 0, 8)
	for _, mv := range moves {
		if mv.From != from {
			continue
		}
		if _, dup := seen[mv.To]; dup {
			continue
		}
		seen[mv.To] = struct{}{}
		out = append(out, mv.To)
	}
	return out, nil
}

func (o *BoardOracle) Apply(pos Position, mv Move) (Applied, error) {
	game, err := loadGame(pos)
	if err != nil {
		return Applied{}, err
	}
	// second copy stays untouched for SAN encoding and board lookups
	reference, err := loadGame(pos)
	if err != nil {
		return Applied{}, err
	}
	before := reference.Position()

	move, err := nchess.UCINotation{}.Decode(game.Position(), mv.String())
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv)
	}
	if err := game.Move(move, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv)
	}
	played := game.Moves()
	if len(played) == 0 {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv)
	}
	last := played[len(played)-1]

	board := before.Board()
	moving := board.Piece(squareOf(mv.From))
	capture := board.Piece(squareOf(mv.To)) != nchess.NoPiece ||
		(moving.Type() == nchess.Pawn && mv.From[0] != mv.To[0])

	next := withEnPassant(Position(game.FEN()), moving, mv)
	status, err := o.Status(next)
	if err != nil {
		return Applied{}, err
	}

	check := last.HasTag(nchess.Check)
	san := strings.TrimRight(nchess.AlgebraicNotation{}.Encode(before, last), "+#")
	switch {
	case status.Method == Checkmate:
		san += "#"
	case check:
		san += "+"
	}

	return Applied{
		Position: next,
		Move:     mv,
		SAN:      san,
		Check:    check,
		Capture:  capture,
	}, nil
}

func (o *BoardOracle) Status(pos Position) (Status, error) {
	game, err := loadGame(pos)
	if err != nil {
		return Status{}, err
	}
	board := game.Position().Board()
	turn := pos.Turn()

	st := Status{Turn: turn, Outcome: NoOutcome, Material: material(board)}
	st.LegalMoves = len(game.ValidMoves())

	method := game.Method()
	if king, ok := findKing(board, libColor(turn)); ok {
		st.KingSquare = king.String()
		st.InCheck = method == nchess.Checkmate || kingCapturable(pos, king)
	}

	switch method {
	case nchess.Checkmate:
		st.Outcome = WinFor(turn.Opponent())
		st.Method = Checkmate
	case nchess.Stalemate:
		st.Outcome = Draw
		st.Method = Stalemate
	case nchess.InsufficientMaterial:
		st.Outcome = Draw
		st.Method = InsufficientMaterial
	case nchess.SeventyFiveMoveRule:
		st.Outcome = Draw
		st.Method = SeventyFiveMoveRule
	}
	return st, nil
}

// kingCapturable reports whether the side to move stands in check: with the
// turn handed over and the opponent's king lifted, some opponent move lands on
// the king.
func kingCapturable(pos Position, king nchess.Square) bool {
	parts, err := pos.fields()
	if err != nil {
		return false
	}
	opponentKing := 'k'
	next := "b"
	if pos.Turn() == Black {
		opponentKing = 'K'
		next = "w"
	}
	flipped := strings.Join([]string{withoutPiece(parts[0], opponentKing), next, "-", "-", "0", "1"}, " ")
	opt, err := nchess.FEN(flipped)
	if err != nil {
		return false
	}
	moves := nchess.NewGame(opt).ValidMoves()
	for i := range moves {
		if moves[i].S2() == king {
			return true
		}
	}
	return false
}

// withoutPiece blanks every occurrence of piece in a FEN placement field.
func withoutPiece(placement string, piece rune) string {
	ranks := strings.Split(placement, "/")
	for i, rank := range ranks {
		var out strings.Builder
		empty := 0
		flush := func() {
			if empty > 0 {
				out.WriteByte(byte('0' + empty))
				empty = 0
			}
		}
		for _, c := range rank {
			switch {
			case c >= '1' && c <= '8':
				empty += int(c - '0')
			case c == piece:
				empty++
			default:
				flush()
				out.WriteRune(c)
			}
		}
		flush()
		ranks[i] = out.String()
	}
	return strings.Join(ranks, "/")
}

// withEnPassant rewrites the en-passant field so it names the skipped square
// after every double pawn push and is "-" otherwise.
func withEnPassant(pos Position, moving nchess.Piece, mv Move) Position {
	parts, err := pos.fields()
	if err != nil {
		return pos
	}
	ep := "-"
	if moving.Type() == nchess.Pawn && mv.From[0] == mv.To[0] {
		fromRank, toRank := int(mv.From[1]), int(mv.To[1])
		if fromRank-toRank == 2 || toRank-fromRank == 2 {
			ep = string([]byte{mv.From[0], byte((fromRank + toRank) / 2)})
		}
	}
	parts[3] = ep
	return Position(strings.Join(parts, " "))
}

func squareOf(sq string) nchess.Square {
	return nchess.NewSquare(nchess.File(sq[0]-'a'), nchess.Rank(sq[1]-'1'))
}

func libColor(c Color) nchess.Color {
	if c == Black {
		return nchess.Black
	}
	return nchess.White
}

func findKing(board *nchess.Board, color nchess.Color) (nchess.Square, bool) {
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			sq := nchess.NewSquare(file, rank)
			piece := board.Piece(sq)
			if piece != nchess.NoPiece && piece.Type() == nchess.King && piece.Color() == color {
				return sq, true
			}
		}
	}
	return nchess.Square(0), false
}

func material(board *nchess.Board) Material {
	var m Material
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			piece := board.Piece(nchess.NewSquare(file, rank))
			if piece == nchess.NoPiece {
				continue
			}
			v := pieceValues[piece.Type()]
			if piece.Color() == nchess.White {
				m.White += v
			} else {
				m.Black += v
			}
		}
	}
	return m
}
