// Command duelclient plays one demo game against itself: it opens two
// connections to the given server, creates a game on the first, joins it
// from the second and wagers a simple halving strategy on both sides.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/udisondev/duelgo/internal/client"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <host:port>\n", os.Args[0])
		os.Exit(1)
	}

	if err := run(os.Args[1]); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(addr string) error {
	creator, err := client.Dial(addr)
	if err != nil {
		return err
	}
	defer creator.Close()

	waiting, err := creator.Create()
	if err != nil {
		return fmt.Errorf("creating game: %w", err)
	}
	slog.Info("game created", "code", waiting.Code())

	joiner, err := client.Dial(addr)
	if err != nil {
		return err
	}
	defer joiner.Close()

	p2, err := joiner.Join(waiting.Code())
	if err != nil {
		return fmt.Errorf("joining game %d: %w", waiting.Code(), err)
	}
	p1, err := waiting.Wait()
	if err != nil {
		return fmt.Errorf("waiting for game start: %w", err)
	}
	slog.Info("game started", "turns", p1.MaxTurns(), "points", p1.PointsLeft())

	for turn := range p1.MaxTurns() {
		if err := p1.MakeGuess(p1.PointsLeft() / 2); err != nil {
			return fmt.Errorf("turn %d, side 1: %w", turn, err)
		}
		if err := p2.MakeGuess(p2.PointsLeft() / 4); err != nil {
			return fmt.Errorf("turn %d, side 2: %w", turn, err)
		}
		if err := p1.WaitResult(); err != nil {
			return fmt.Errorf("turn %d, side 1 result: %w", turn, err)
		}
		if err := p2.WaitResult(); err != nil {
			return fmt.Errorf("turn %d, side 2 result: %w", turn, err)
		}
	}

	if _, err := p1.Finish(); err != nil {
		return fmt.Errorf("finishing side 1: %w", err)
	}
	if _, err := p2.Finish(); err != nil {
		return fmt.Errorf("finishing side 2: %w", err)
	}

	fmt.Printf("guesses1: %v\n", p1.Guesses())
	fmt.Printf("guesses2: %v\n", p2.Guesses())
	fmt.Printf("results1: %v\n", p1.Results())
	fmt.Printf("results2: %v\n", p2.Results())
	return nil
}
