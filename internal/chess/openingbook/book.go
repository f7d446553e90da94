package openingbook

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"

	"github.com/park285/cheese-board/internal/chess/rules"
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// Opening names the ECO line a game has followed so far.
type Opening struct {
	Code  string `json:"eco"`
	Title string `json:"title"`
}

// Book is a polyglot opening book.
type Book struct {
	poly *chesslib.PolyglotBook
	// Plies past which the book is no longer consulted; 0 means no limit.
	MaxPly int
}

// Open loads a polyglot book. An empty path yields a nil book and no error.
func Open(path string) (*Book, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer file.Close()

	poly, err := chesslib.LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", path, err)
	}
	return &Book{poly: poly}, nil
}

// Lookup picks a book move for pos, weighted by the book's entry weights.
// ok is false when the position is out of book.
func (b *Book) Lookup(pos rules.Position, ply int, r *rand.Rand) (rules.Move, bool, error) {
	if b == nil || b.poly == nil {
		return rules.Move{}, false, nil
	}
	if b.MaxPly > 0 && ply >= b.MaxPly {
		return rules.Move{}, false, nil
	}

	game, err := gameFrom(pos, nil)
	if err != nil {
		return rules.Move{}, false, err
	}
	hashStr, err := chesslib.NewZobristHasher().HashPosition(game.FEN())
	if err != nil {
		return rules.Move{}, false, fmt.Errorf("compute polyglot hash: %w", err)
	}
	entries := b.poly.FindMoves(chesslib.ZobristHashToUint64(hashStr))

	total := 0
	for _, entry := range entries {
		total += int(entry.Weight)
	}
	if total == 0 {
		return rules.Move{}, false, nil
	}

	threshold := r.Intn(total)
	chosen := entries[0]
	for _, entry := range entries {
		threshold -= int(entry.Weight)
		if threshold < 0 {
			chosen = entry
			break
		}
	}

	move := chesslib.DecodeMove(chosen.Move).ToMove()
	raw := move.String()
	legal := make(map[string]struct{})
	for _, vm := range game.ValidMoves() {
		legal[vm.String()] = struct{}{}
	}
	if _, ok := legal[raw]; !ok {
		// polyglot writes castling as king takes rook
		alt, isCastle := polyglotCastling[raw]
		if _, ok := legal[alt]; !isCastle || !ok {
			return rules.Move{}, false, nil
		}
		raw = alt
	}
	mv, err := rules.ParseMove(raw)
	if err != nil {
		return rules.Move{}, false, fmt.Errorf("book move %q: %w", raw, err)
	}
	return mv, true, nil
}

var polyglotCastling = map[string]string{
	"e1h1": "e1g1",
	"e1a1": "e1c1",
	"e8h8": "e8g8",
	"e8a8": "e8c8",
}

// Name finds the ECO opening reached by moves from the standard start. Games
// set up from another position have no name.
func Name(initial rules.Position, moves []string) (Opening, bool) {
	if initial != "" && initial != rules.StartingPosition {
		return Opening{}, false
	}
	if len(moves) == 0 {
		return Opening{}, false
	}
	game, err := gameFrom(rules.StartingPosition, moves)
	if err != nil {
		return Opening{}, false
	}
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	eco := ecoBook.Find(game.Moves())
	if eco == nil {
		return Opening{}, false
	}
	return Opening{Code: eco.Code(), Title: eco.Title()}, true
}

func gameFrom(pos rules.Position, moves []string) (*chesslib.Game, error) {
	option, err := chesslib.FEN(string(pos))
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", pos, err)
	}
	game := chesslib.NewGame(option)
	for _, mv := range moves {
		if err := game.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("apply move %q: %w", mv, err)
		}
	}
	return game, nil
}
