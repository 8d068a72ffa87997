package storage

import (
	"context"
	"testing"

	"github.com/streamrec/core/configresolver"
	"github.com/streamrec/core/model"
	"github.com/streamrec/core/resilience"
)

func TestMemoryConfigRepositoryReturnsSetLayers(t *testing.T) {
	repo := NewMemoryConfigRepository()
	folder := "/data/out"
	repo.SetGlobal(configresolver.Override{OutputFolder: &folder})

	got, err := repo.Global(context.Background())
	if err != nil {
		t.Fatalf("Global: %v", err)
	}
	if got.OutputFolder == nil || *got.OutputFolder != folder {
		t.Fatalf("expected the configured global override, got %+v", got)
	}

	empty, err := repo.Platform(context.Background(), "nowhere")
	if err != nil || empty.OutputFolder != nil {
		t.Fatalf("expected a zero-value Override for an unconfigured platform, got %+v, %v", empty, err)
	}
}

func TestMemoryStreamerLookupErrorsForUnknownID(t *testing.T) {
	lookup := NewMemoryStreamerLookup()
	lookup.Put(model.StreamerMetadata{ID: "streamer-1", PlatformID: "platform-a"})

	meta, err := lookup.Get(context.Background(), "streamer-1")
	if err != nil || meta.PlatformID != "platform-a" {
		t.Fatalf("expected the registered streamer, got %+v, %v", meta, err)
	}

	if _, err := lookup.Get(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error for an unregistered streamer id")
	}
}

func TestMemoryCredentialStoreGetAndSet(t *testing.T) {
	store := NewMemoryCredentialStore()
	if _, ok, err := store.Get(context.Background(), "platform-a"); ok || err != nil {
		t.Fatalf("expected no credentials before Set, got ok=%v err=%v", ok, err)
	}
	store.Set("platform-a", resilience.Credentials{Headers: map[string]string{"Cookie": "session=1"}})
	c, ok, err := store.Get(context.Background(), "platform-a")
	if err != nil || !ok || c.Headers["Cookie"] != "session=1" {
		t.Fatalf("expected the stored credentials back, got %+v, %v, %v", c, ok, err)
	}
	if err := store.Refresh(context.Background(), "platform-a"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}
