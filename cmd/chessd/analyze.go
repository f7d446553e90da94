package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/cheese-board/internal/chess/rules"
	"github.com/park285/cheese-board/internal/chess/uci"
	"github.com/park285/cheese-board/internal/chessbuilder"
)

var (
	analyzeFEN     string
	analyzeMoves   string
	analyzeDepth   int
	analyzeLevel   string
	analyzeTimeout time.Duration
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one position with the configured engine",
	Long: "Streams engine evaluations (White-positive) for a FEN, optionally after a\n" +
		"list of long-algebraic moves, until the requested depth is reached.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Engine.HasEngine() {
			return fmt.Errorf("no engine configured: set ENGINE_PATH or ENGINE_URL")
		}
		pos, err := startPosition(rules.NewBoardOracle(), analyzeFEN, analyzeMoves)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
		defer stop()
		if analyzeTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, analyzeTimeout)
			defer cancel()
		}

		pool, err := chessbuilder.NewPool(cfg.Engine, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		bridge, err := pool.Acquire(ctx, analyzeLevel)
		if err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		analysis, err := bridge.StartAnalysis(ctx, pos, analyzeDepth)
		if err != nil {
			pool.Release(bridge, err)
			return err
		}
		defer func() {
			analysis.Stop()
			pool.Release(bridge, analysis.Err())
		}()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "position %s\n", pos)
		for {
			select {
			case <-ctx.Done():
				return nil
			case info, ok := <-analysis.Events():
				if !ok {
					if err := analysis.Err(); err != nil && !isCanceled(err) {
						return err
					}
					return nil
				}
				printEvaluation(out, analysis.Evaluate(info))
			}
		}
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFEN, "fen", "", "starting FEN (default: initial position)")
	analyzeCmd.Flags().StringVar(&analyzeMoves, "moves", "", "moves to play first, e.g. \"e2e4 e7e5\"")
	analyzeCmd.Flags().IntVar(&analyzeDepth, "depth", 18, "search depth; 0 searches until interrupted")
	analyzeCmd.Flags().StringVar(&analyzeLevel, "level", "maximum", "engine strength preset")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 0, "stop after this long")
	rootCmd.AddCommand(analyzeCmd)
}

func startPosition(oracle rules.Oracle, fen, moves string) (rules.Position, error) {
	pos := rules.StartingPosition
	if strings.TrimSpace(fen) != "" {
		pos = rules.Position(strings.TrimSpace(fen))
		if _, err := oracle.Status(pos); err != nil {
			return "", err
		}
	}
	for _, raw := range strings.Fields(moves) {
		mv, err := rules.ParseMove(raw)
		if err != nil {
			return "", err
		}
		applied, err := oracle.Apply(pos, mv)
		if err != nil {
			return "", fmt.Errorf("move %s: %w", raw, err)
		}
		pos = applied.Position
	}
	return pos, nil
}

func printEvaluation(w io.Writer, ev uci.Evaluation) {
	score := fmt.Sprintf("%+.2f", ev.Pawns)
	if ev.Mate {
		score = fmt.Sprintf("#%d", ev.MateIn)
	}
	fmt.Fprintf(w, "depth %2d  %-7s  bar %5.1f%%  %s\n", ev.Depth, score, ev.WhitePercent(), strings.Join(ev.PV, " "))
}

func isCanceled(err error) bool {
	return errors.Is(err, uci.ErrCanceled) || errors.Is(err, context.Canceled)
}
