package otp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeOTP serves canned stop and stoptimes responses and counts requests.
type fakeOTP struct {
	mu       sync.Mutex
	hits     map[string]int
	names    map[string]string
	times    map[string]string
	failStop map[string]int // status code to return for a stop
}

func newFakeOTP() *fakeOTP {
	return &fakeOTP{
		hits:     map[string]int{},
		names:    map[string]string{},
		times:    map[string]string{},
		failStop: map[string]int{},
	}
}

func (f *fakeOTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/index/stops/gtt:")
	id, sub, _ := strings.Cut(path, "/")
	if code, ok := f.failStop[id]; ok {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch sub {
	case "":
		name, ok := f.names[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"id":"gtt:` + id + `","name":"` + name + `"}`))
	case "stoptimes":
		body, ok := f.times[id]
		if !ok {
			body = "[]"
		}
		w.Write([]byte(body))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOTP) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func newTestClient(t *testing.T, f *fakeOTP, opts ClientOpts) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL + "/index"
	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(ClientOpts{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.namespace != DefaultNamespace {
		t.Errorf("namespace = %q, want %q", c.namespace, DefaultNamespace)
	}
	if c.http.BaseURL != DefaultBaseURL {
		t.Errorf("base url = %q, want %q", c.http.BaseURL, DefaultBaseURL)
	}
	if c.names != nil {
		t.Error("name cache should be off by default")
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	if _, err := NewClient(ClientOpts{BaseURL: "not a url"}); err == nil {
		t.Fatal("expected error for invalid base url")
	}
}

func TestStopName(t *testing.T) {
	f := newFakeOTP()
	f.names["455"] = "Porta Nuova"
	c := newTestClient(t, f, ClientOpts{})

	if got := c.StopName(context.Background(), "455"); got != "Porta Nuova" {
		t.Errorf("StopName = %q, want Porta Nuova", got)
	}
	if got := c.StopName(context.Background(), "999"); got != "999" {
		t.Errorf("StopName(unknown) = %q, want id fallback", got)
	}
}

func TestStopName_ServerError(t *testing.T) {
	f := newFakeOTP()
	f.failStop["455"] = http.StatusInternalServerError
	c := newTestClient(t, f, ClientOpts{})
	if got := c.StopName(context.Background(), "455"); got != "455" {
		t.Errorf("StopName = %q, want id fallback", got)
	}
}

func TestStopTimes_Decode(t *testing.T) {
	f := newFakeOTP()
	f.times["455"] = `[{"pattern":{"id":"gtt:4U"},"times":[{"serviceDay":100,"scheduledArrival":10,"realtime":false}]}]`
	c := newTestClient(t, f, ClientOpts{})

	got := c.StopTimes(context.Background(), "455")
	if len(got) != 1 || got[0].Pattern.ID != "gtt:4U" || len(got[0].Times) != 1 {
		t.Errorf("StopTimes = %+v", got)
	}
}

func TestStopTimes_Degrades(t *testing.T) {
	f := newFakeOTP()
	f.times["1"] = `{not json`
	f.failStop["2"] = http.StatusBadGateway
	c := newTestClient(t, f, ClientOpts{})

	for _, id := range []string{"1", "2"} {
		got := c.StopTimes(context.Background(), id)
		if got == nil || len(got) != 0 {
			t.Errorf("StopTimes(%s) = %v, want empty non-nil slice", id, got)
		}
	}
}

func TestStopTimes_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c, err := NewClient(ClientOpts{BaseURL: srv.URL, TimesTimeout: 20 * time.Millisecond, NameTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if got := c.StopTimes(context.Background(), "1"); len(got) != 0 {
		t.Errorf("StopTimes = %v, want empty on timeout", got)
	}
	if got := c.StopName(context.Background(), "1"); got != "1" {
		t.Errorf("StopName = %q, want fallback on timeout", got)
	}
}

func TestFetchAll_OncePerStop(t *testing.T) {
	f := newFakeOTP()
	f.names["1"] = "One"
	f.names["2"] = "Two"
	c := newTestClient(t, f, ClientOpts{})

	data := c.FetchAll(context.Background(), []string{"1", "2", "1", ""})

	for _, id := range []string{"1", "2"} {
		if n := f.count("/index/stops/gtt:" + id); n != 1 {
			t.Errorf("name requests for %s = %d, want 1", id, n)
		}
		if n := f.count("/index/stops/gtt:" + id + "/stoptimes"); n != 1 {
			t.Errorf("stoptimes requests for %s = %d, want 1", id, n)
		}
		if _, ok := data.Times[id]; !ok {
			t.Errorf("missing times entry for %s", id)
		}
	}
	if data.Names["1"] != "One" || data.Names["2"] != "Two" {
		t.Errorf("names = %v", data.Names)
	}
	if _, ok := data.Names[""]; ok {
		t.Error("empty id should be skipped")
	}
}

func TestFetchAll_Bounded(t *testing.T) {
	f := newFakeOTP()
	c := newTestClient(t, f, ClientOpts{MaxInFlight: 1})
	data := c.FetchAll(context.Background(), []string{"1", "2", "3"})
	if len(data.Times) != 3 || len(data.Names) != 3 {
		t.Errorf("got %d times, %d names; want 3 each", len(data.Times), len(data.Names))
	}
}

func TestFetchOne(t *testing.T) {
	f := newFakeOTP()
	f.names["7"] = "Seven"
	c := newTestClient(t, f, ClientOpts{})
	name, patterns := c.FetchOne(context.Background(), "7")
	if name != "Seven" {
		t.Errorf("name = %q", name)
	}
	if patterns == nil {
		t.Error("patterns should be empty, not nil")
	}
}

func TestNameCache(t *testing.T) {
	f := newFakeOTP()
	f.names["1"] = "One"
	c := newTestClient(t, f, ClientOpts{NameCacheTTL: time.Minute})

	for range 3 {
		if got := c.StopName(context.Background(), "1"); got != "One" {
			t.Fatalf("StopName = %q", got)
		}
	}
	if n := f.count("/index/stops/gtt:1"); n != 1 {
		t.Errorf("name requests = %d, want 1 with cache", n)
	}

	// Fallback names are not cached.
	c.StopName(context.Background(), "2")
	c.StopName(context.Background(), "2")
	if n := f.count("/index/stops/gtt:2"); n != 2 {
		t.Errorf("uncached fallback requests = %d, want 2", n)
	}
}
