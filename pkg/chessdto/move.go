package chessdto

type MoveView struct {
	Ply       int    `json:"ply"`
	Side      string `json:"side"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	UCI       string `json:"uci"`
	SAN       string `json:"san"`
	FEN       string `json:"fen"`
	Check     bool   `json:"check,omitempty"`
	Capture   bool   `json:"capture,omitempty"`
}

type MoveResponse struct {
	Move MoveView `json:"move"`
	Game GameView `json:"game"`
}

type SelectableResponse struct {
	Square       string   `json:"square"`
	Destinations []string `json:"destinations"`
}

type HintResponse struct {
	Move string `json:"move"`
}

// EvaluationView is an engine score from White's point of view.
type EvaluationView struct {
	Depth        int      `json:"depth"`
	Centipawns   int      `json:"centipawns"`
	Pawns        float64  `json:"pawns"`
	Mate         bool     `json:"mate"`
	MateIn       int      `json:"mate_in,omitempty"`
	PV           []string `json:"pv,omitempty"`
	BestMove     string   `json:"best_move,omitempty"`
	WhitePercent float64  `json:"white_percent"`
}
