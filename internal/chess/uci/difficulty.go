package uci

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Level string

const (
	Beginner     Level = "beginner"
	Intermediate Level = "intermediate"
	Advanced     Level = "advanced"
	Maximum      Level = "maximum"
)

const DefaultMoveTime = 2 * time.Second

// Difficulty is the engine-side strength preset. ErrorRate is the chance that
// the automated player ignores the engine and plays a random legal move.
type Difficulty struct {
	Level     Level
	Skill     int
	Depth     int
	MoveTime  time.Duration
	ErrorRate float64
}

var difficulties = map[Level]Difficulty{
	Beginner:     {Level: Beginner, Skill: 1, Depth: 3, MoveTime: DefaultMoveTime, ErrorRate: 0.4},
	Intermediate: {Level: Intermediate, Skill: 8, Depth: 8, MoveTime: DefaultMoveTime, ErrorRate: 0.15},
	Advanced:     {Level: Advanced, Skill: 15, Depth: 15, MoveTime: DefaultMoveTime, ErrorRate: 0.05},
	Maximum:      {Level: Maximum, Skill: 20, Depth: 20, MoveTime: DefaultMoveTime, ErrorRate: 0},
}

// LookupDifficulty resolves a level name. Empty means intermediate.
func LookupDifficulty(name string) (Difficulty, error) {
	key := Level(strings.ToLower(strings.TrimSpace(name)))
	switch key {
	case "":
		key = Intermediate
	case "easy":
		key = Beginner
	case "medium":
		key = Intermediate
	case "hard":
		key = Advanced
	case "grandmaster", "master", "max":
		key = Maximum
	}
	d, ok := difficulties[key]
	if !ok {
		return Difficulty{}, fmt.Errorf("unknown difficulty: %s", name)
	}
	return d, nil
}

func (d Difficulty) skillCommand() string {
	return fmt.Sprintf("setoption name Skill Level value %d", d.Skill)
}

// buildGoCommand bounds the search by depth and by budget (falling back to the
// preset move time). Nothing set means an infinite search.
func buildGoCommand(depth int, budget time.Duration) string {
	args := []string{"go"}
	if depth > 0 {
		args = append(args, "depth", strconv.Itoa(depth))
	}
	if ms := budget.Milliseconds(); ms > 0 {
		args = append(args, "movetime", strconv.FormatInt(ms, 10))
	}
	if len(args) == 1 {
		args = append(args, "infinite")
	}
	return strings.Join(args, " ")
}

func buildPositionCommand(fen string) string {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return "position startpos"
	}
	return "position fen " + fen
}
