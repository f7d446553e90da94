package domain

import "time"

// ArchivedGame is a finished session as kept in the game archive.
type ArchivedGame struct {
	ID           int64
	SessionID    string
	Mode         string
	Difficulty   string
	PlayerSide   string
	InitialFEN   string
	Result       string
	ResultMethod string
	MovesUCI     []string
	MovesSAN     []string
	PGN          string
	OpeningECO   string
	OpeningName  string
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
}
