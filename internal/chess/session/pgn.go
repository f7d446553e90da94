package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-board/internal/chess/clock"
	"github.com/park285/cheese-board/internal/chess/rules"
)

type PGNTags struct {
	Event string
	Site  string
	White string
	Black string
}

// PGN renders the live history with a seven-tag-roster style header.
func (s *Session) PGN(tags PGNTags) string {
	st := s.State()
	return BuildPGN(st, tags)
}

func BuildPGN(st State, tags PGNTags) string {
	date := st.StartedAt
	if date.IsZero() {
		date = time.Now()
	}
	event := orDefault(tags.Event, "Casual game")
	site := orDefault(tags.Site, "cheese-board")
	white, black := orDefault(tags.White, "White"), orDefault(tags.Black, "Black")

	result := st.Result.Outcome
	if result == "" || st.Active {
		result = rules.NoOutcome
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Event \"%s\"]\n", sanitizePGN(event))
	fmt.Fprintf(&b, "[Site \"%s\"]\n", sanitizePGN(site))
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(white))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(black))
	fmt.Fprintf(&b, "[Result \"%s\"]\n", result)
	if st.Config.Timer != nil {
		fmt.Fprintf(&b, "[TimeControl \"%s\"]\n", st.Config.Timer.TimeControl())
	}
	if st.Clock.Enabled {
		fmt.Fprintf(&b, "[WhiteClock \"%s\"]\n", clock.Format(st.Clock.White))
		fmt.Fprintf(&b, "[BlackClock \"%s\"]\n", clock.Format(st.Clock.Black))
	}
	initial := st.Config.initialPosition()
	if initial != rules.StartingPosition {
		b.WriteString("[SetUp \"1\"]\n")
		fmt.Fprintf(&b, "[FEN \"%s\"]\n", initial)
	}
	if st.Result.Method != rules.NoMethod && !st.Active {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(string(st.Result.Method)))
	}
	b.WriteString("\n")

	startBlack := initial.Turn() == rules.Black
	for i, rec := range st.History {
		switch {
		case i == 0 && startBlack:
			fmt.Fprintf(&b, "%d... %s ", fullMoveNumber(initial), rec.SAN)
		case rec.Side == rules.White:
			fmt.Fprintf(&b, "%d. %s ", fullMoveNumber(rec.Position), rec.SAN)
		default:
			b.WriteString(rec.SAN)
			b.WriteString(" ")
		}
	}
	b.WriteString(string(result))
	return b.String()
}

// fullMoveNumber reads the FEN move counter. For a White move the record's
// resulting position still carries the number of the move just played.
func fullMoveNumber(pos rules.Position) int {
	parts := strings.Fields(string(pos))
	if len(parts) != 6 {
		return 1
	}
	n := 0
	if _, err := fmt.Sscanf(parts[5], "%d", &n); err != nil || n <= 0 {
		return 1
	}
	return n
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
