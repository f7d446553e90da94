package chessdto

type ArchivedGameView struct {
	ID          int64    `json:"id"`
	SessionID   string   `json:"session_id"`
	Mode        string   `json:"mode"`
	Difficulty  string   `json:"difficulty,omitempty"`
	PlayerSide  string   `json:"player_side,omitempty"`
	InitialFEN  string   `json:"initial_fen"`
	Result      string   `json:"result"`
	Method      string   `json:"method,omitempty"`
	MovesUCI    []string `json:"moves_uci"`
	MovesSAN    []string `json:"moves_san"`
	PGN         string   `json:"pgn"`
	OpeningECO  string   `json:"opening_eco,omitempty"`
	OpeningName string   `json:"opening_name,omitempty"`
	StartedAt   string   `json:"started_at"`
	EndedAt     string   `json:"ended_at"`
	DurationMS  int64    `json:"duration_ms"`
}
