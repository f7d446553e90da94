package chessdto

type CreateGameRequest struct {
	Mode       string        `json:"mode"`
	Timer      *TimerRequest `json:"timer,omitempty"`
	Difficulty string        `json:"difficulty,omitempty"`
	PlayerSide string        `json:"player_side,omitempty"`
	FEN        string        `json:"fen,omitempty"`
}

type TimerRequest struct {
	InitialSeconds   float64 `json:"initial_seconds"`
	IncrementSeconds float64 `json:"increment_seconds"`
}

// MoveRequest takes either from/to squares or a single long-algebraic move.
type MoveRequest struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	Move      string `json:"move,omitempty"`
}

// NavigateRequest moves the review cursor; -1 is the initial position.
type NavigateRequest struct {
	Ply int `json:"ply"`
}

// ResignRequest names the resigning side. Empty means the player in a game
// against the engine, otherwise the side to move.
type ResignRequest struct {
	Side string `json:"side,omitempty"`
}
