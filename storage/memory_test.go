package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"prism-board/domain"
)

func TestMemoryStoreEmptyLoad(t *testing.T) {
	_, err := NewMemory().Load(context.Background())
	if !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestMemoryStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	doc := sampleDocument()
	if err := m.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Mutating the caller's copy must not leak into the store.
	doc.Boards[0].Cards[0].Title = "changed"

	got, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, sampleDocument()) {
		t.Fatalf("unexpected document: %#v", got)
	}
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemoryWith(sampleDocument())
	if _, err := m.Load(ctx); !errors.Is(err, domain.ErrLoad) {
		t.Fatalf("expected ErrLoad, got %v", err)
	}
	if err := m.Save(ctx, sampleDocument()); !errors.Is(err, domain.ErrSave) {
		t.Fatalf("expected ErrSave, got %v", err)
	}
}

func TestMemoryStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var got []int64
	stop, err := m.Subscribe(ctx, func(doc domain.Document) { got = append(got, doc.Version) }, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	doc := sampleDocument()
	_ = m.Save(ctx, doc)
	doc.Version = 4
	_ = m.Save(ctx, doc)
	stop()
	stop()
	doc.Version = 5
	_ = m.Save(ctx, doc)

	if !reflect.DeepEqual(got, []int64{3, 4}) {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestMemoryStoreSaveIfVersion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	doc := sampleDocument()

	if err := m.SaveIfVersion(ctx, doc, 2); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected conflict on empty store, got %v", err)
	}
	if err := m.SaveIfVersion(ctx, doc, 0); err != nil {
		t.Fatalf("first conditional save: %v", err)
	}
	next := doc
	next.Version = 4
	if err := m.SaveIfVersion(ctx, next, 2); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := m.SaveIfVersion(ctx, next, 3); err != nil {
		t.Fatalf("conditional save: %v", err)
	}
	got, _ := m.Load(ctx)
	if got.Version != 4 {
		t.Fatalf("expected version 4, got %d", got.Version)
	}
}
