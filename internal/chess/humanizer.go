package chess

import (
	"errors"
	"math/rand"

	"github.com/park285/cheese-board/internal/chess/rules"
)

var errNoLegalMoves = errors.New("no legal moves to choose from")

// pickRandom draws uniformly from legal.
func pickRandom(legal []rules.Move, r *rand.Rand) (rules.Move, error) {
	if len(legal) == 0 {
		return rules.Move{}, errNoLegalMoves
	}
	return legal[r.Intn(len(legal))], nil
}

// shouldStumble reports whether this turn ignores the engine. rate is the
// preset's error rate in [0,1].
func shouldStumble(rate float64, r *rand.Rand) bool {
	if rate <= 0 {
		return false
	}
	return r.Float64() < rate
}

func containsMove(legal []rules.Move, mv rules.Move) bool {
	for _, m := range legal {
		if m == mv {
			return true
		}
	}
	return false
}
