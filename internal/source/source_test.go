package source

import (
	"context"
	"testing"

	"idxsync/internal/model"
)

func TestDrainFollowsCursor(t *testing.T) {
	pages := map[int64][]model.StoreRow{
		0: {{Seq: 1}, {Seq: 1}, {Seq: 2}},
		2: {{Seq: 5}},
		5: nil,
	}
	var cursors []int64
	rows, err := Drain(context.Background(), func(_ context.Context, cursor int64) ([]model.StoreRow, error) {
		cursors = append(cursors, cursor)
		return pages[cursor], nil
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows=%d", len(rows))
	}
	if len(cursors) != 3 || cursors[1] != 2 || cursors[2] != 5 {
		t.Fatalf("cursors=%v", cursors)
	}
}

func TestDrainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Drain(ctx, func(context.Context, int64) ([]model.StoreRow, error) {
		t.Fatal("fetch called after cancel")
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
