package chessdto

type MaterialScore struct {
	White int `json:"white"`
	Black int `json:"black"`
}

// GameView is one session as returned by every state-changing call.
type GameView struct {
	ID          string        `json:"id"`
	Mode        string        `json:"mode"`
	Difficulty  string        `json:"difficulty,omitempty"`
	PlayerSide  string        `json:"player_side,omitempty"`
	FEN         string        `json:"fen"`
	LiveFEN     string        `json:"live_fen"`
	Turn        string        `json:"turn"`
	Cursor      int           `json:"cursor"`
	Moves       []MoveView    `json:"moves"`
	Active      bool          `json:"active"`
	Result      string        `json:"result"`
	Method      string        `json:"method,omitempty"`
	InCheck     bool          `json:"in_check"`
	CheckSquare string        `json:"check_square,omitempty"`
	LastMove    *MoveView     `json:"last_move,omitempty"`
	Material    MaterialScore `json:"material"`
	Clock       *ClockView    `json:"clock,omitempty"`
	Version     uint64        `json:"version"`
}

type ClockView struct {
	WhiteMS     int64  `json:"white_ms"`
	BlackMS     int64  `json:"black_ms"`
	IncrementMS int64  `json:"increment_ms"`
	TimeControl string `json:"time_control"`
}
