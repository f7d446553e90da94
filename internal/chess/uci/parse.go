package uci

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/cheese-board/internal/chess/rules"
)

// Message is one parsed line from the engine: Ready, Info or BestMove.
type Message interface {
	isMessage()
}

// Ready carries a handshake acknowledgement: uciok or readyok.
type Ready struct {
	Token string
}

type Info struct {
	Depth         int
	MultiPV       int
	Centipawns    int
	HasCentipawns bool
	MateIn        int
	HasMate       bool
	Nodes         int64
	PV            []string
}

type BestMove struct {
	Move   rules.Move
	Ponder string
	None   bool
}

func (Ready) isMessage()    {}
func (Info) isMessage()     {}
func (BestMove) isMessage() {}

// HasScore reports whether the line carried cp or mate.
func (i Info) HasScore() bool { return i.HasCentipawns || i.HasMate }

// Pawns converts the centipawn score to pawns. Scores are relative to the
// side to move, exactly as the engine reported them.
func (i Info) Pawns() float64 { return float64(i.Centipawns) / 100 }

// ParseWarning flags a malformed field. The rest of the line is still used.
type ParseWarning struct {
	Line  string
	Field string
	Value string
}

func (w *ParseWarning) Error() string {
	return fmt.Sprintf("uci: malformed %s %q in %q", w.Field, w.Value, w.Line)
}

// ParseLine turns one engine line into a Message. Unknown lines yield (nil, nil).
// A non-nil *ParseWarning may accompany a usable message.
func ParseLine(line string) (Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "uciok", "readyok":
		return Ready{Token: fields[0]}, nil
	case "info":
		return parseInfo(line, fields[1:])
	case "bestmove":
		return parseBestMove(line, fields[1:])
	default:
		return nil, nil
	}
}

func parseInfo(line string, parts []string) (Message, error) {
	info := Info{}
	var warn *ParseWarning
	note := func(field, value string) {
		if warn == nil {
			warn = &ParseWarning{Line: line, Field: field, Value: value}
		}
	}

	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil && v >= 0 {
					info.Depth = v
				} else {
					note("depth", parts[i+1])
				}
				i++
			}
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					info.MultiPV = v
				} else {
					note("multipv", parts[i+1])
				}
				i++
			}
		case "nodes":
			if i+1 < len(parts) {
				if v, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
					info.Nodes = v
				} else {
					note("nodes", parts[i+1])
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				kind, val := parts[i+1], parts[i+2]
				switch kind {
				case "cp":
					if v, err := strconv.Atoi(val); err == nil {
						info.Centipawns = v
						info.HasCentipawns = true
					} else {
						note("score cp", val)
					}
				case "mate":
					if v, err := strconv.Atoi(val); err == nil {
						info.MateIn = v
						info.HasMate = true
					} else {
						note("score mate", val)
					}
				default:
					note("score", kind)
				}
				i += 2
			}
		case "pv":
			for _, raw := range parts[i+1:] {
				if _, err := rules.ParseMove(raw); err != nil {
					note("pv", raw)
					break
				}
				info.PV = append(info.PV, raw)
			}
			i = len(parts)
		case "string":
			// free text until end of line
			i = len(parts)
		}
	}

	if warn != nil {
		return info, warn
	}
	return info, nil
}

func parseBestMove(line string, parts []string) (Message, error) {
	if len(parts) == 0 {
		return nil, &ParseWarning{Line: line, Field: "bestmove", Value: ""}
	}
	if parts[0] == "(none)" || parts[0] == "0000" {
		return BestMove{None: true}, nil
	}
	mv, err := rules.ParseMove(parts[0])
	if err != nil {
		return nil, &ParseWarning{Line: line, Field: "bestmove", Value: parts[0]}
	}
	bm := BestMove{Move: mv}
	if len(parts) >= 3 && parts[1] == "ponder" {
		bm.Ponder = parts[2]
	}
	return bm, nil
}
