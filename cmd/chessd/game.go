package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/cheese-board/internal/httpapi"
	"github.com/park285/cheese-board/pkg/chessdto"
)

var (
	serverURL string

	newMode       string
	newDifficulty string
	newSide       string
	newFEN        string
	newClock      string
)

var gameCmd = &cobra.Command{
	Use:   "game",
	Short: "Play against a running chessd server",
}

func apiClient() *httpapi.Client {
	base := strings.TrimSpace(serverURL)
	if base == "" {
		base = "http://" + cfg.Server.ListenAddr
	}
	return httpapi.NewClient(base, httpapi.WithClientTimeout(cfg.Server.RequestTimeout+5*time.Second))
}

var gameNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a game",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := chessdto.CreateGameRequest{
			Mode:       newMode,
			Difficulty: newDifficulty,
			PlayerSide: newSide,
			FEN:        newFEN,
		}
		if newClock != "" {
			timer, err := parseClock(newClock)
			if err != nil {
				return err
			}
			req.Timer = timer
		}
		g, err := apiClient().CreateGame(commandContext(cmd), req)
		if err != nil {
			return err
		}
		printGame(cmd.OutOrStdout(), g)
		return nil
	},
}

var gameShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a game",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := apiClient().Game(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		printGame(cmd.OutOrStdout(), g)
		return nil
	},
}

var gameMoveCmd = &cobra.Command{
	Use:   "move <id> <uci>",
	Short: "Play a move such as e2e4 or e7e8q",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient().Move(commandContext(cmd), args[0], args[1])
		if err != nil {
			return err
		}
		cmd.Printf("played %s\n", resp.Move.SAN)
		printGame(cmd.OutOrStdout(), &resp.Game)
		return nil
	},
}

var gameUndoCmd = &cobra.Command{
	Use:   "undo <id>",
	Short: "Take back the last move",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := apiClient().Undo(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		printGame(cmd.OutOrStdout(), g)
		return nil
	},
}

var gameResignCmd = &cobra.Command{
	Use:   "resign <id> [side]",
	Short: "Resign a game",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		side := ""
		if len(args) == 2 {
			side = args[1]
		}
		g, err := apiClient().Resign(commandContext(cmd), args[0], side)
		if err != nil {
			return err
		}
		printGame(cmd.OutOrStdout(), g)
		return nil
	},
}

var gameHintCmd = &cobra.Command{
	Use:   "hint <id>",
	Short: "Ask the engine for a move suggestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mv, err := apiClient().Hint(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		cmd.Println(mv)
		return nil
	},
}

var gamePGNCmd = &cobra.Command{
	Use:   "pgn <id>",
	Short: "Export a game as PGN",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pgn, err := apiClient().PGN(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		cmd.Print(pgn)
		return nil
	},
}

var gameArchiveCmd = &cobra.Command{
	Use:   "archive [limit]",
	Short: "List finished games",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit := 0
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("limit: %w", err)
			}
			limit = n
		}
		games, err := apiClient().Archive(commandContext(cmd), limit)
		if err != nil {
			return err
		}
		if len(games) == 0 {
			cmd.Println("no finished games")
			return nil
		}
		for _, g := range games {
			opening := g.OpeningName
			if opening == "" {
				opening = "-"
			}
			cmd.Printf("%4d  %s  %-7s  %-12s  %3d plies  %s\n", g.ID, g.EndedAt, g.Result, g.Method, len(g.MovesUCI), opening)
		}
		return nil
	},
}

func init() {
	gameCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default http://<listen_addr>)")

	gameNewCmd.Flags().StringVar(&newMode, "mode", "vs-engine", "local, vs-engine or analysis")
	gameNewCmd.Flags().StringVar(&newDifficulty, "difficulty", "intermediate", "beginner, intermediate, advanced or maximum")
	gameNewCmd.Flags().StringVar(&newSide, "side", "white", "side you play against the engine")
	gameNewCmd.Flags().StringVar(&newFEN, "fen", "", "starting FEN")
	gameNewCmd.Flags().StringVar(&newClock, "clock", "", "time control as minutes+increment, e.g. 5+3")

	gameCmd.AddCommand(gameNewCmd, gameShowCmd, gameMoveCmd, gameUndoCmd, gameResignCmd, gameHintCmd, gamePGNCmd, gameArchiveCmd)
	rootCmd.AddCommand(gameCmd)
}

// parseClock reads "minutes+increment" with the increment in seconds.
func parseClock(s string) (*chessdto.TimerRequest, error) {
	minutes, inc, found := strings.Cut(strings.TrimSpace(s), "+")
	m, err := strconv.ParseFloat(minutes, 64)
	if err != nil || m <= 0 {
		return nil, fmt.Errorf("clock %q: minutes must be positive", s)
	}
	t := &chessdto.TimerRequest{InitialSeconds: m * 60}
	if found {
		i, err := strconv.ParseFloat(inc, 64)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("clock %q: bad increment", s)
		}
		t.IncrementSeconds = i
	}
	return t, nil
}

func printGame(w io.Writer, g *chessdto.GameView) {
	fmt.Fprintf(w, "game %s (%s)\n", g.ID, g.Mode)
	fmt.Fprintf(w, "fen  %s\n", g.FEN)

	var line strings.Builder
	for i, mv := range g.Moves {
		if mv.Side == "white" || i == 0 {
			if line.Len() > 0 {
				line.WriteByte(' ')
			}
			n := mv.Ply/2 + 1
			if mv.Side == "white" {
				fmt.Fprintf(&line, "%d. ", n)
			} else {
				fmt.Fprintf(&line, "%d... ", n)
			}
		} else {
			line.WriteByte(' ')
		}
		line.WriteString(mv.SAN)
	}
	if line.Len() > 0 {
		fmt.Fprintf(w, "moves %s\n", line.String())
	}
	if g.Clock != nil {
		fmt.Fprintf(w, "clock white %s  black %s\n",
			time.Duration(g.Clock.WhiteMS)*time.Millisecond,
			time.Duration(g.Clock.BlackMS)*time.Millisecond)
	}
	switch {
	case !g.Active:
		fmt.Fprintf(w, "result %s (%s)\n", g.Result, g.Method)
	case g.InCheck:
		fmt.Fprintf(w, "%s to move, in check\n", g.Turn)
	default:
		fmt.Fprintf(w, "%s to move\n", g.Turn)
	}
}
