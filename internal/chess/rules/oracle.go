package rules

// Oracle answers legality questions about positions. Implementations must be
// safe for concurrent use and must not keep state between calls.
type Oracle interface {
	// LegalMoves lists every legal move for the side to move.
	LegalMoves(pos Position) ([]Move, error)
	// Destinations lists legal target squares for the piece on from.
	// It is empty when the square is empty or holds a piece of the side not to move.
	Destinations(pos Position, from string) ([]string, error)
	// Apply validates mv against pos and returns the resulting position.
	Apply(pos Position, mv Move) (Applied, error)
	Status(pos Position) (Status, error)
}

type Applied struct {
	Position Position
	Move     Move
	SAN      string
	Check    bool
	Capture  bool
}

type Outcome string

const (
	NoOutcome Outcome = "*"
	WhiteWon  Outcome = "1-0"
	BlackWon  Outcome = "0-1"
	Draw      Outcome = "1/2-1/2"
)

// WinFor returns the outcome in which side wins.
func WinFor(side Color) Outcome {
	if side == White {
		return WhiteWon
	}
	return BlackWon
}

type Method string

const (
	NoMethod             Method = ""
	Checkmate            Method = "checkmate"
	Stalemate            Method = "stalemate"
	InsufficientMaterial Method = "insufficient_material"
	SeventyFiveMoveRule  Method = "seventy_five_move_rule"
	FivefoldRepetition   Method = "fivefold_repetition"
	Resignation          Method = "resignation"
	Timeout              Method = "timeout"
	Agreement            Method = "agreement"
)

type Material struct {
	White int `json:"white"`
	Black int `json:"black"`
}

func (m Material) Diff() int { return m.White - m.Black }

type Status struct {
	Turn       Color
	InCheck    bool
	KingSquare string
	LegalMoves int
	Outcome    Outcome
	Method     Method
	Material   Material
}

// Over reports whether the board alone ends the game.
func (s Status) Over() bool { return s.Outcome != NoOutcome && s.Outcome != "" }
