package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/cheese-board/internal/domain"
)

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"s1", "s2", "s3"} {
		g := &domain.ArchivedGame{
			SessionID: id,
			Result:    "1-0",
			MovesUCI:  []string{"e2e4"},
			EndedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := repo.InsertGame(ctx, g); err != nil {
			t.Fatalf("InsertGame %s: %v", id, err)
		}
	}
	if _, err := repo.InsertGame(ctx, &domain.ArchivedGame{SessionID: "s2"}); !errors.Is(err, ErrDuplicateGame) {
		t.Fatalf("duplicate insert = %v", err)
	}

	recent, err := repo.RecentGames(ctx, 2)
	if err != nil {
		t.Fatalf("RecentGames: %v", err)
	}
	if len(recent) != 2 || recent[0].SessionID != "s3" || recent[1].SessionID != "s2" {
		t.Fatalf("recent = %v, %v", recent[0].SessionID, recent[1].SessionID)
	}

	recent[0].MovesUCI[0] = "mutated"
	again, _ := repo.GetGameBySession(ctx, "s3")
	if again.MovesUCI[0] != "e2e4" {
		t.Fatalf("repository returned shared slices")
	}

	byID, err := repo.GetGame(ctx, again.ID)
	if err != nil || byID == nil || byID.SessionID != "s3" {
		t.Fatalf("GetGame = %+v, %v", byID, err)
	}
	if g, err := repo.GetGame(ctx, 42); g != nil || err != nil {
		t.Fatalf("missing GetGame = %+v, %v", g, err)
	}
}
