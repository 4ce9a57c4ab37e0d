package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/workspace"
)

func TestNewStoreDefaultsSQLitePath(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}

	s, err := newStore(&config.StoreConfig{Driver: "sqlite", SessionID: "s1"}, ws)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	defer s.Close()

	dbPath := filepath.Join(ws.DataDir(), "kazi.db")
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("expected session database at %s: %v", dbPath, err)
	}
}

func TestNewStoreNilConfigIsMemory(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}

	s, err := newStore(nil, ws)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	defer s.Close()
}

func TestNewStoreUnknownDriver(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}

	if _, err := newStore(&config.StoreConfig{Driver: "redis"}, ws); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
