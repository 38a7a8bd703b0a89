package targets

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/zotero-go/internal/credential"
	"github.com/tonimelisma/zotero-go/internal/library"
	"github.com/tonimelisma/zotero-go/internal/prefs"
	"github.com/tonimelisma/zotero-go/internal/zotero"
)

// fakeAPI serves a user library (1) and one group (5).
type fakeAPI struct {
	srv       *httptest.Server
	hits      sync.Map // path -> *atomic.Int32
	groupGate chan struct{}
	failPaths map[string]int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()

	api := &fakeAPI{failPaths: map[string]int{}}

	bodies := map[string]string{
		"/users/1/groups":       `[{"id":5,"data":{"id":5,"name":"Lab","fileEditing":"members","libraryEditing":"members"}}]`,
		"/users/1/collections":  `[{"key":"AAAA","data":{"key":"AAAA","name":"Papers","parentCollection":false}}]`,
		"/users/1/tags":         `[{"tag":"alpha"}]`,
		"/groups/5/collections": `[{"key":"BBBB","data":{"key":"BBBB","name":"Shared","parentCollection":false}}]`,
		"/groups/5/tags":        `[{"tag":"beta"}]`,
	}

	api.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "KEY", r.Header.Get(zotero.HeaderAPIKey))

		counter, _ := api.hits.LoadOrStore(r.URL.Path, &atomic.Int32{})
		counter.(*atomic.Int32).Add(1)

		if r.URL.Path == "/users/1/groups" && api.groupGate != nil {
			<-api.groupGate
		}

		if status, ok := api.failPaths[r.URL.Path]; ok {
			w.WriteHeader(status)
			return
		}

		body, ok := bodies[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(api.srv.Close)

	return api
}

func (a *fakeAPI) count(path string) int32 {
	v, ok := a.hits.Load(path)
	if !ok {
		return 0
	}

	return v.(*atomic.Int32).Load()
}

type fixture struct {
	api      *fakeAPI
	prefs    *prefs.MemoryStore
	creds    *credential.Store
	resolver *Resolver
}

func newFixture(t *testing.T, authorized bool) *fixture {
	t.Helper()

	api := newFakeAPI(t)
	p := prefs.NewMemoryStore()
	creds := credential.NewStore(p, nil)

	if authorized {
		require.NoError(t, creds.Save(context.Background(), &credential.Credential{
			Token: "tok", TokenSecret: "KEY", UserID: "1", Username: "alice",
		}))
	}

	client := zotero.NewClient(api.srv.URL, api.srv.Client(), slog.Default(), "test")

	return &fixture{
		api:      api,
		prefs:    p,
		creds:    creds,
		resolver: NewResolver(client, creds, p, 2, nil),
	}
}

func rowIDs(rows []Row) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	return ids
}

func TestTargets_WorkedExample(t *testing.T) {
	f := newFixture(t, true)

	sel, err := f.resolver.Targets(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, sel)

	assert.Equal(t, []string{"Luser-1", "Cuser-1-AAAA", "Lgroup-5", "Cgroup-5-BBBB"}, rowIDs(sel.Targets))

	assert.Equal(t, "My Library", sel.Targets[0].Name)
	assert.Equal(t, 0, sel.Targets[0].Level)
	assert.Equal(t, 1, sel.Targets[1].Level)
	assert.Equal(t, "AAAA", sel.Targets[1].CollectionKey)
	assert.Equal(t, "Lab", sel.Targets[2].Name)
	assert.Equal(t, 0, sel.Targets[2].Level)
	assert.True(t, sel.Targets[2].Library.IsGroup())
	assert.True(t, sel.Targets[3].FilesEditable)

	assert.Equal(t, map[string][]string{
		"Luser-1":  {"alpha"},
		"Lgroup-5": {"beta"},
	}, sel.Tags)
	assert.Equal(t, []string{"Luser-1", "Lgroup-5"}, sel.LibraryKeys())

	assert.Equal(t, "Luser-1", sel.Preferred.ID)
}

func TestTargets_NoCredential(t *testing.T) {
	f := newFixture(t, false)

	sel, err := f.resolver.Targets(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, sel)

	// Not cached: authorizing afterwards makes the next call discover.
	require.NoError(t, f.creds.Save(context.Background(), &credential.Credential{
		Token: "tok", TokenSecret: "KEY", UserID: "1", Username: "alice",
	}))

	sel, err = f.resolver.Targets(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Len(t, sel.Targets, 4)
}

func TestTargets_ConcurrentCallersShareOneDiscovery(t *testing.T) {
	f := newFixture(t, true)
	f.api.groupGate = make(chan struct{})

	const callers = 8

	var wg sync.WaitGroup

	results := make([]*Selection, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()

		var err error
		results[0], err = f.resolver.Targets(context.Background(), false)
		assert.NoError(t, err)
	}()

	// Discovery is now blocked inside the groups request.
	require.Eventually(t, func() bool { return f.api.count("/users/1/groups") == 1 }, 5*time.Second, 5*time.Millisecond)

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var err error
			results[i], err = f.resolver.Targets(context.Background(), false)
			assert.NoError(t, err)
		}()
	}

	// Give the joiners a moment to reach the shared slot.
	time.Sleep(20 * time.Millisecond)
	close(f.api.groupGate)
	wg.Wait()

	for _, sel := range results {
		require.NotNil(t, sel)
		assert.Equal(t, rowIDs(results[0].Targets), rowIDs(sel.Targets))
	}

	assert.Equal(t, int32(1), f.api.count("/users/1/groups"))
	assert.Equal(t, int32(1), f.api.count("/users/1/collections"))
	assert.Equal(t, int32(1), f.api.count("/groups/5/tags"))
}

func TestTargets_CachedAndForceRefresh(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.resolver.Targets(ctx, false)
	require.NoError(t, err)
	_, err = f.resolver.Targets(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.api.count("/users/1/groups"))

	_, err = f.resolver.Targets(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.api.count("/users/1/groups"))

	f.resolver.Invalidate()
	_, err = f.resolver.Targets(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.api.count("/users/1/groups"))
}

func TestTargets_ReturnsIndependentCopies(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	a, err := f.resolver.Targets(ctx, false)
	require.NoError(t, err)

	a.Targets[0].Name = "mutated"
	a.Tags["Luser-1"][0] = "mutated"

	b, err := f.resolver.Targets(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "My Library", b.Targets[0].Name)
	assert.Equal(t, []string{"alpha"}, b.Tags["Luser-1"])
}

func TestTargets_PartialFailureIsIsolated(t *testing.T) {
	f := newFixture(t, true)
	f.api.failPaths["/groups/5/collections"] = http.StatusInternalServerError

	sel, err := f.resolver.Targets(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"Luser-1", "Cuser-1-AAAA", "Lgroup-5"}, rowIDs(sel.Targets))
	assert.Equal(t, []string{"beta"}, sel.Tags["Lgroup-5"])
}

func TestTargets_GroupListingFailureKeepsUserLibrary(t *testing.T) {
	f := newFixture(t, true)
	f.api.failPaths["/users/1/groups"] = http.StatusForbidden

	sel, err := f.resolver.Targets(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"Luser-1", "Cuser-1-AAAA"}, rowIDs(sel.Targets))
	assert.Equal(t, map[string][]string{"Luser-1": {"alpha"}}, sel.Tags)
}

func TestTargets_PreferredFromPreference(t *testing.T) {
	tests := []struct {
		pref string
		want string
	}{
		{"Cgroup-5-BBBB", "Cgroup-5-BBBB"},
		{"group:5", "Lgroup-5"},
		{"user:1", "Luser-1"},
		{"Lgroup-99", "Luser-1"},
	}

	for _, tt := range tests {
		t.Run(tt.pref, func(t *testing.T) {
			f := newFixture(t, true)
			require.NoError(t, f.prefs.Set(context.Background(), PrefLastTarget, tt.pref))

			sel, err := f.resolver.Targets(context.Background(), false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel.Preferred.ID)
		})
	}
}

func TestSetPreferred_UpdatesCacheWithoutFetching(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	before, err := f.resolver.Targets(ctx, false)
	require.NoError(t, err)

	row, ok := before.Find("Cgroup-5-BBBB")
	require.True(t, ok)
	require.NoError(t, f.resolver.SetPreferred(ctx, row))

	v, ok, err := f.prefs.Get(ctx, PrefLastTarget)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Cgroup-5-BBBB", v)

	after, err := f.resolver.Targets(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "Cgroup-5-BBBB", after.Preferred.ID)
	assert.Equal(t, rowIDs(before.Targets), rowIDs(after.Targets))
	assert.Equal(t, "Luser-1", before.Preferred.ID)
	assert.Equal(t, int32(1), f.api.count("/users/1/groups"))
}

func TestSetPreferred_LibraryKeyWithoutRowID(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	g, err := library.Group("5")
	require.NoError(t, err)
	require.NoError(t, f.resolver.SetPreferred(ctx, Row{Library: g}))

	v, _, err := f.prefs.Get(ctx, PrefLastTarget)
	require.NoError(t, err)
	assert.Equal(t, "group:5", v)

	sel, err := f.resolver.Targets(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "Lgroup-5", sel.Preferred.ID)
}

// flakyPrefs fails GetMany once.
type flakyPrefs struct {
	*prefs.MemoryStore
	failures atomic.Int32
}

func (p *flakyPrefs) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	if p.failures.Add(-1) >= 0 {
		return nil, errors.New("storage unavailable")
	}

	return p.MemoryStore.GetMany(ctx, keys...)
}

func TestTargets_FailureIsNotCached(t *testing.T) {
	api := newFakeAPI(t)
	p := &flakyPrefs{MemoryStore: prefs.NewMemoryStore()}
	creds := credential.NewStore(p, nil)
	require.NoError(t, creds.Save(context.Background(), &credential.Credential{
		Token: "tok", TokenSecret: "KEY", UserID: "1", Username: "alice",
	}))
	p.failures.Store(1)

	client := zotero.NewClient(api.srv.URL, api.srv.Client(), nil, "test")
	r := NewResolver(client, creds, p, 0, nil)

	_, err := r.Targets(context.Background(), false)
	require.Error(t, err)

	sel, err := r.Targets(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, sel)
}

func TestTargets_CallerCancelDoesNotAbortDiscovery(t *testing.T) {
	f := newFixture(t, true)
	f.api.groupGate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		_, err := f.resolver.Targets(ctx, false)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.api.count("/users/1/groups") == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(f.api.groupGate)

	sel, err := f.resolver.Targets(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, sel.Targets, 4)
	assert.Equal(t, int32(1), f.api.count("/users/1/groups"))
}
