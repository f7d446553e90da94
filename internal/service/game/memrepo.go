package game

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/cheese-board/internal/domain"
)

// memrepo keeps the archive in process when no database is configured.
type memrepo struct {
	mu sync.RWMutex

	nextID int64

	gamesByID      map[int64]*domain.ArchivedGame
	gamesBySession map[string]*domain.ArchivedGame
}

func NewMemoryRepository() Repository {
	return &memrepo{
		gamesByID:      make(map[int64]*domain.ArchivedGame),
		gamesBySession: make(map[string]*domain.ArchivedGame),
	}
}

func (m *memrepo) InsertGame(ctx context.Context, game *domain.ArchivedGame) (int64, error) {
	if game == nil {
		return 0, ErrDuplicateGame
	}
	key := strings.TrimSpace(game.SessionID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.gamesBySession[key]; exists {
		return 0, ErrDuplicateGame
	}

	m.nextID++
	id := m.nextID
	stored := cloneGame(game)
	stored.ID = id

	m.gamesByID[id] = stored
	m.gamesBySession[key] = stored
	return id, nil
}

func (m *memrepo) RecentGames(ctx context.Context, limit int) ([]*domain.ArchivedGame, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	m.mu.RLock()
	items := make([]*domain.ArchivedGame, 0, len(m.gamesByID))
	for _, g := range m.gamesByID {
		items = append(items, cloneGame(g))
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) GetGame(ctx context.Context, id int64) (*domain.ArchivedGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.gamesByID[id]
	if !ok {
		return nil, nil
	}
	return cloneGame(g), nil
}

func (m *memrepo) GetGameBySession(ctx context.Context, sessionID string) (*domain.ArchivedGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.gamesBySession[strings.TrimSpace(sessionID)]
	if !ok {
		return nil, nil
	}
	return cloneGame(g), nil
}

func cloneGame(g *domain.ArchivedGame) *domain.ArchivedGame {
	c := *g
	c.MovesUCI = append([]string(nil), g.MovesUCI...)
	c.MovesSAN = append([]string(nil), g.MovesSAN...)
	return &c
}
