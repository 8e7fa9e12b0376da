package storage

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleDocument() domain.Document {
	return domain.Document{
		Boards: []domain.Board{
			{ID: 1, Title: "To Do", Color: "blue", Cards: []domain.Card{{ID: 10, Title: "write tests", Assignee: "ana"}}},
			{ID: 2, Title: "Done", Color: "green", Cards: []domain.Card{}},
		},
		Version:       3,
		LastUpdated:   "2024-05-01T10:00:00.000Z",
		LastUpdatedBy: "ana",
	}
}
