package main

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/config"
	"prism-board/domain"
	"prism-board/storage"
)

// useMemory points every invocation in the test at one shared store.
func useMemory(t *testing.T) *storage.MemoryStore {
	t.Helper()
	t.Setenv("STORE_KIND", "memory")
	t.Setenv("DISPLAY_NAME", "ana")
	t.Setenv("REMINDER_QUEUE", "")
	t.Setenv("REMINDER_WEBHOOK_URL", "")
	mem := storage.NewMemory()
	prev := openStore
	openStore = func(_ config.Config, logger *log.Logger) (storage.Store, error) {
		return storage.NewFailSoft(mem, logger), nil
	}
	t.Cleanup(func() { openStore = prev })
	return mem
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func stored(t *testing.T, mem *storage.MemoryStore) domain.Document {
	t.Helper()
	doc, err := mem.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return doc
}

func TestShowRendersSeed(t *testing.T) {
	useMemory(t)
	out, err := runCLI(t, "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"To Do", "In Progress", "Done", "version 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestShowJSON(t *testing.T) {
	useMemory(t)
	out, err := runCLI(t, "show", "--json")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var doc domain.Document
	if err := sonic.ConfigStd.UnmarshalFromString(out, &doc); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(doc.Boards) != 3 || doc.Version != 1 {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestCardLifecycleAcrossInvocations(t *testing.T) {
	mem := useMemory(t)

	if _, err := runCLI(t, "add-card", "1", "write docs", "-a", "bob", "-d", "readme"); err != nil {
		t.Fatalf("add-card: %v", err)
	}
	doc := stored(t, mem)
	if doc.Version != 2 || doc.LastUpdatedBy != "ana" {
		t.Fatalf("expected version 2 by ana, got %d by %q", doc.Version, doc.LastUpdatedBy)
	}
	if len(doc.Boards[0].Cards) != 1 {
		t.Fatalf("expected one card on board 1, got %+v", doc.Boards[0].Cards)
	}
	card := doc.Boards[0].Cards[0]
	if card.Title != "write docs" || card.Assignee != "bob" || card.Description != "readme" || card.CreatedBy != "ana" {
		t.Fatalf("unexpected card %+v", card)
	}
	id := card.ID

	if _, err := runCLI(t, "move-card", itoa(id), "1", "3"); err != nil {
		t.Fatalf("move-card: %v", err)
	}
	if _, err := runCLI(t, "edit-card", "3", itoa(id), "--title", "docs written", "--assignee", ""); err != nil {
		t.Fatalf("edit-card: %v", err)
	}
	doc = stored(t, mem)
	if doc.Version != 4 {
		t.Fatalf("expected version 4, got %d", doc.Version)
	}
	got, boardID, ok := domain.FindCard(doc, id)
	if !ok || boardID != 3 {
		t.Fatalf("expected card on board 3, got board %d (found %v)", boardID, ok)
	}
	if got.Title != "docs written" || got.Assignee != "" || got.Description != "readme" {
		t.Fatalf("unexpected edited card %+v", got)
	}

	if _, err := runCLI(t, "delete-card", "3", itoa(id)); err != nil {
		t.Fatalf("delete-card: %v", err)
	}
	if _, _, ok := domain.FindCard(stored(t, mem), id); ok {
		t.Fatal("card still present after delete")
	}
}

func TestBoardCommands(t *testing.T) {
	mem := useMemory(t)
	if _, err := runCLI(t, "add-board", "Blocked", "--color", "red"); err != nil {
		t.Fatalf("add-board: %v", err)
	}
	doc := stored(t, mem)
	if len(doc.Boards) != 4 || doc.Boards[3].Title != "Blocked" || doc.Boards[3].Color != "red" {
		t.Fatalf("unexpected boards %+v", doc.Boards)
	}
	added := doc.Boards[3].ID

	if _, err := runCLI(t, "edit-board", itoa(added), "--title", "Waiting"); err != nil {
		t.Fatalf("edit-board: %v", err)
	}
	if got := stored(t, mem).Boards[3]; got.Title != "Waiting" || got.Color != "red" {
		t.Fatalf("unexpected edited board %+v", got)
	}

	if _, err := runCLI(t, "delete-board", itoa(added)); err != nil {
		t.Fatalf("delete-board: %v", err)
	}
	if n := len(stored(t, mem).Boards); n != 3 {
		t.Fatalf("expected 3 boards, got %d", n)
	}
}

func TestNoopReportsNothingChanged(t *testing.T) {
	mem := useMemory(t)
	out, err := runCLI(t, "delete-card", "1", "999")
	if err != nil {
		t.Fatalf("delete-card: %v", err)
	}
	if !strings.Contains(out, "nothing changed") {
		t.Fatalf("unexpected output %q", out)
	}
	if v := stored(t, mem).Version; v != 1 {
		t.Fatalf("no-op must not bump the version, got %d", v)
	}
}

func TestArgumentErrors(t *testing.T) {
	useMemory(t)
	cases := [][]string{
		{"add-card", "x", "title"},
		{"add-card", "1", "   "},
		{"add-card", "1", "t", "--remind-at", "tomorrow"},
		{"move-card", "1", "2"},
		{"edit-card", "1", "2"},
		{"edit-board", "1"},
		{"delete-board", "-4"},
	}
	for _, args := range cases {
		if _, err := runCLI(t, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestAddCardWithPastReminderIsLogged(t *testing.T) {
	mem := useMemory(t)
	_, err := runCLI(t, "add-card", "2", "call bob", "--remind-email", "bob@example.com", "--remind-at", "2020-01-01T09:00")
	if err != nil {
		t.Fatalf("add-card: %v", err)
	}
	card := stored(t, mem).Boards[1].Cards[0]
	if !card.HasReminder() {
		t.Fatalf("reminder fields not stored: %+v", card)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
