package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/streamrec/core/configresolver"
	"github.com/streamrec/core/model"
	"github.com/streamrec/core/monitor/filter"
	"github.com/streamrec/core/resilience"
)

// MemoryConfigRepository is a hand-written in-memory stand-in for
// configresolver.ConfigRepository, the same "fake over mock" idiom the
// teacher uses for its own external collaborators (mist_client_mock.go):
// enough behavior to make cmd/recorder runnable standalone, with every
// layer defaulting to an empty Override until an operator's real,
// database-backed ConfigRepository replaces it.
type MemoryConfigRepository struct {
	mu        sync.RWMutex
	global    configresolver.Override
	platforms map[string]configresolver.Override
	templates map[string]configresolver.Override
	streamers map[string]configresolver.Override
}

// NewMemoryConfigRepository returns an empty repository; every layer
// starts as a no-op Override until SetGlobal/SetPlatform/... populate it.
func NewMemoryConfigRepository() *MemoryConfigRepository {
	return &MemoryConfigRepository{
		platforms: make(map[string]configresolver.Override),
		templates: make(map[string]configresolver.Override),
		streamers: make(map[string]configresolver.Override),
	}
}

func (m *MemoryConfigRepository) SetGlobal(o configresolver.Override) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global = o
}

func (m *MemoryConfigRepository) SetPlatform(platformID string, o configresolver.Override) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.platforms[platformID] = o
}

func (m *MemoryConfigRepository) SetTemplate(templateName string, o configresolver.Override) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[templateName] = o
}

func (m *MemoryConfigRepository) SetStreamer(streamerID string, o configresolver.Override) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamers[streamerID] = o
}

func (m *MemoryConfigRepository) Global(ctx context.Context) (configresolver.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.global, nil
}

func (m *MemoryConfigRepository) Platform(ctx context.Context, platformID string) (configresolver.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.platforms[platformID], nil
}

func (m *MemoryConfigRepository) Template(ctx context.Context, templateName string) (configresolver.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.templates[templateName], nil
}

func (m *MemoryConfigRepository) Streamer(ctx context.Context, streamerID string) (configresolver.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streamers[streamerID], nil
}

var _ configresolver.ConfigRepository = (*MemoryConfigRepository)(nil)

// MemoryStreamerLookup is a hand-written in-memory stand-in for
// configresolver.StreamerLookup.
type MemoryStreamerLookup struct {
	mu        sync.RWMutex
	streamers map[string]model.StreamerMetadata
}

// NewMemoryStreamerLookup returns an empty lookup; Put registers
// streamers, normally loaded from whatever registry an operator's
// deployment owns.
func NewMemoryStreamerLookup() *MemoryStreamerLookup {
	return &MemoryStreamerLookup{streamers: make(map[string]model.StreamerMetadata)}
}

func (m *MemoryStreamerLookup) Put(meta model.StreamerMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamers[meta.ID] = meta
}

func (m *MemoryStreamerLookup) Get(ctx context.Context, streamerID string) (model.StreamerMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.streamers[streamerID]
	if !ok {
		return model.StreamerMetadata{}, fmt.Errorf("storage: no streamer registered for id %q", streamerID)
	}
	return meta, nil
}

var _ configresolver.StreamerLookup = (*MemoryStreamerLookup)(nil)

// MemoryFilterProvider is a hand-written in-memory stand-in for
// monitor.FilterProvider.
type MemoryFilterProvider struct {
	mu    sync.RWMutex
	specs map[string][]filter.Spec
}

func NewMemoryFilterProvider() *MemoryFilterProvider {
	return &MemoryFilterProvider{specs: make(map[string][]filter.Spec)}
}

func (m *MemoryFilterProvider) SetFilters(streamerID string, specs []filter.Spec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[streamerID] = specs
}

func (m *MemoryFilterProvider) FiltersFor(ctx context.Context, streamerID string) ([]filter.Spec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.specs[streamerID], nil
}

// MemoryCredentialStore is a hand-written in-memory stand-in for
// resilience.CredentialStore. Refresh is a no-op: nothing in this
// package knows how to actually rotate a platform's cookies, that's
// the whole reason CredentialStore is an external collaborator.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]resilience.Credentials
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]resilience.Credentials)}
}

func (m *MemoryCredentialStore) Set(platformID string, c resilience.Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[platformID] = c
}

func (m *MemoryCredentialStore) Get(ctx context.Context, platformID string) (resilience.Credentials, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[platformID]
	return c, ok, nil
}

func (m *MemoryCredentialStore) Refresh(ctx context.Context, platformID string) error {
	return nil
}

var _ resilience.CredentialStore = (*MemoryCredentialStore)(nil)
