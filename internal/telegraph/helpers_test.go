package telegraph

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/tramtram/internal/arrivals"
	"github.com/zulandar/tramtram/internal/models"
	"github.com/zulandar/tramtram/internal/render"
)

var testNow = time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)

// memStore is an in-memory Store that keeps encoded copies.
type memStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	history map[string][][]byte
	saves   map[string]int
	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{blobs: map[string][]byte{}, history: map[string][][]byte{}, saves: map[string]int{}}
}

func (m *memStore) Load(chatID string) (*models.UserData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	raw, ok := m.blobs[chatID]
	if !ok {
		return models.NewUserData(), nil
	}
	return models.DecodeUserData(raw, testNow, DefaultStopTTL)
}

func (m *memStore) Save(chatID string, data *models.UserData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	raw, err := data.Encode()
	if err != nil {
		return err
	}
	m.blobs[chatID] = raw
	m.history[chatID] = append(m.history[chatID], raw)
	m.saves[chatID]++
	return nil
}

func (m *memStore) LoadAll() (map[string]*models.UserData, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.blobs))
	for id := range m.blobs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	out := map[string]*models.UserData{}
	for _, id := range ids {
		u, err := m.Load(id)
		if err != nil {
			return nil, err
		}
		out[id] = u
	}
	return out, nil
}

func (m *memStore) saveCount(chatID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[chatID]
}

// savedStates decodes every blob saved for chatID, oldest first.
func (m *memStore) savedStates(t *testing.T, chatID string) []*models.UserData {
	t.Helper()
	m.mu.Lock()
	blobs := append([][]byte(nil), m.history[chatID]...)
	m.mu.Unlock()
	out := make([]*models.UserData, 0, len(blobs))
	for _, raw := range blobs {
		u, err := models.DecodeUserData(raw, testNow, DefaultStopTTL)
		if err != nil {
			t.Fatalf("decode saved %s: %v", chatID, err)
		}
		out = append(out, u)
	}
	return out
}

func (m *memStore) stored(t *testing.T, chatID string) *models.UserData {
	t.Helper()
	u, err := m.Load(chatID)
	if err != nil {
		t.Fatalf("load %s: %v", chatID, err)
	}
	return u
}

// fakeFetcher serves canned stop data and records what was asked for.
type fakeFetcher struct {
	mu       sync.Mutex
	names    map[string]string
	times    map[string][]arrivals.Pattern
	allCalls [][]string
	oneCalls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{names: map[string]string{}, times: map[string][]arrivals.Pattern{}}
}

func (f *fakeFetcher) FetchAll(ctx context.Context, ids []string) arrivals.StopData {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allCalls = append(f.allCalls, append([]string(nil), ids...))
	data := arrivals.NewStopData()
	for _, id := range ids {
		data.Names[id] = f.nameLocked(id)
		data.Times[id] = f.times[id]
		if data.Times[id] == nil {
			data.Times[id] = []arrivals.Pattern{}
		}
	}
	return data
}

func (f *fakeFetcher) FetchOne(ctx context.Context, id string) (string, []arrivals.Pattern) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oneCalls = append(f.oneCalls, id)
	return f.nameLocked(id), f.times[id]
}

func (f *fakeFetcher) nameLocked(id string) string {
	if n, ok := f.names[id]; ok {
		return n
	}
	return id
}

func (f *fakeFetcher) fetchAllCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.allCalls...)
}

// panicFetcher panics on every fetch.
type panicFetcher struct{}

func (panicFetcher) FetchAll(context.Context, []string) arrivals.StopData { panic("boom") }
func (panicFetcher) FetchOne(context.Context, string) (string, []arrivals.Pattern) {
	panic("boom")
}

// pattern builds a pattern whose calls are offsets seconds after testNow.
func pattern(id string, offsets ...int64) arrivals.Pattern {
	p := arrivals.Pattern{Pattern: arrivals.PatternRef{ID: id}}
	for _, off := range offsets {
		p.Times = append(p.Times, arrivals.StopTime{ServiceDay: testNow.Unix(), ScheduledArrival: off})
	}
	return p
}

func sampleTrips() []models.Trip {
	return []models.Trip{
		{Name: "Home → Work", Combos: []models.Combo{{Name: "Direct", Legs: []models.Leg{
			{Line: "4", BoardingStopID: "100", AlightingStopID: "200"},
		}}}},
		{Name: "Gym", Combos: []models.Combo{{Name: "Tram", Legs: []models.Leg{
			{Line: "15", BoardingStopID: "300", AlightingStopID: "100"},
		}}}},
	}
}

func msgID(s string) *models.MessageID {
	id := models.MessageID(s)
	return &id
}

// engine bundles an adapter, store, fetcher and the components built on them.
type engine struct {
	adapter    *MockAdapter
	store      *memStore
	fetcher    *fakeFetcher
	registry   *Registry
	reconciler *Reconciler
	router     *Router
	now        time.Time
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	e := &engine{
		adapter: NewMockAdapter(),
		store:   newMemStore(),
		fetcher: newFakeFetcher(),
		now:     testNow,
	}
	if err := e.adapter.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	var err error
	e.registry, err = NewRegistry(e.store)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	renderer := render.New(render.TelegramMarkdown{}, time.UTC)
	e.reconciler, err = NewReconciler(ReconcilerOpts{Adapter: e.adapter, Renderer: renderer})
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	e.router, err = NewRouter(RouterOpts{
		Registry:   e.registry,
		Adapter:    e.adapter,
		Fetcher:    e.fetcher,
		Reconciler: e.reconciler,
		Renderer:   renderer,
		Now:        func() time.Time { return e.now },
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	e.router.confirmDelay = 0
	return e
}

// seed installs data for chatID directly in the registry.
func (e *engine) seed(chatID string, fn func(u *models.UserData)) *Session {
	s := e.registry.Get(chatID)
	s.Lock()
	fn(s.Data())
	s.Unlock()
	return s
}

// data returns a copy of the session's current state for assertions.
func (e *engine) data(t *testing.T, chatID string) *models.UserData {
	t.Helper()
	s := e.registry.Get(chatID)
	s.Lock()
	defer s.Unlock()
	raw, err := s.Data().Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	u, err := models.DecodeUserData(raw, testNow, DefaultStopTTL)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return u
}

func (e *engine) text(chatID, text string, id string) {
	e.router.Handle(context.Background(), InboundMessage{
		Platform: "test", ChatID: chatID, MessageID: models.MessageID(id), UserID: "u1", UserName: "alice", Text: text,
	})
}

func (e *engine) press(chatID, data string) {
	e.router.Handle(context.Background(), InboundMessage{
		Platform: "test", ChatID: chatID, UserID: "u1", UserName: "alice",
		Callback: &Callback{ID: "cb-" + data, Data: data},
	})
}

func sortedIDs(ids []models.MessageID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	sort.Strings(out)
	return out
}
