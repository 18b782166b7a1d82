package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lanonasis/memctl-go/internal/config"
)

func validDirectory() map[string]string {
	return map[string]string{
		"auth_base":     "https://api.test.dev/api/v1/auth",
		"memory_base":   "https://api.test.dev/api/v1/memory",
		"mcp_base":      "https://mcp.test.dev",
		"mcp_ws_base":   "wss://mcp.test.dev/ws",
		"mcp_sse_base":  "https://mcp.test.dev/sse",
		"project_scope": "test-scope",
	}
}

func directoryServer(t *testing.T, hits *atomic.Int32, status int, payload any) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get(WellKnownPath, func(w http.ResponseWriter, _ *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if payload != nil {
			_ = json.NewEncoder(w).Encode(payload)
		}
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newService(t *testing.T, baseURLs ...string) (*Service, *config.Store, *observer.ObservedLogs) {
	t.Helper()
	store := config.NewStore(t.TempDir(), zap.NewNop())
	core, observed := observer.New(zap.DebugLevel)
	svc := New(store, zap.New(core))
	svc.BaseURLs = baseURLs
	return svc, store, observed
}

func TestEndpoints_FirstParseableWins(t *testing.T) {
	config.SetupEnv()
	var hits1, hits2 atomic.Int32
	first := directoryServer(t, &hits1, http.StatusOK, validDirectory())
	second := directoryServer(t, &hits2, http.StatusOK, validDirectory())

	svc, _, _ := newService(t, first.URL, second.URL)

	eps, source, err := svc.Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceDiscovery, source)
	assert.Equal(t, "https://api.test.dev/api/v1/auth", eps.AuthBase)
	assert.Equal(t, int32(1), hits1.Load())
	assert.Equal(t, int32(0), hits2.Load(), "later URLs are not tried once one succeeds")
}

func TestEndpoints_FallsPastFailures(t *testing.T) {
	config.SetupEnv()
	var hits1, hits2 atomic.Int32
	broken := directoryServer(t, &hits1, http.StatusInternalServerError, nil)
	good := directoryServer(t, &hits2, http.StatusOK, validDirectory())

	svc, _, _ := newService(t, broken.URL, good.URL)

	eps, source, err := svc.Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceDiscovery, source)
	assert.Equal(t, "https://mcp.test.dev", eps.MCPBase)
	assert.Equal(t, int32(1), hits1.Load())
	assert.Equal(t, int32(1), hits2.Load())
}

func TestEndpoints_PersistsCache(t *testing.T) {
	config.SetupEnv()
	srv := directoryServer(t, nil, http.StatusOK, validDirectory())
	svc, store, _ := newService(t, srv.URL)

	_, _, err := svc.Endpoints(context.Background())
	require.NoError(t, err)

	doc, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, doc.DiscoveredServices)
	assert.True(t, doc.DiscoveredServices.Complete())
	require.NotNil(t, doc.LastServiceDiscovery)
	assert.WithinDuration(t, time.Now(), *doc.LastServiceDiscovery, 5*time.Second)
	assert.False(t, doc.ManualEndpointOverrides)
}

func TestEndpoints_FreshCacheSkipsNetwork(t *testing.T) {
	config.SetupEnv()
	var hits atomic.Int32
	srv := directoryServer(t, &hits, http.StatusOK, validDirectory())
	svc, store, _ := newService(t, srv.URL)

	now := time.Now()
	_, err := store.Update(func(doc *config.Document) error {
		doc.DiscoveredServices = DefaultEndpoints()
		doc.LastServiceDiscovery = &now
		return nil
	})
	require.NoError(t, err)

	eps, source, err := svc.Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceCache, source)
	assert.Equal(t, DefaultEndpoints().AuthBase, eps.AuthBase)
	assert.Equal(t, int32(0), hits.Load(), "a fresh cache must not trigger network discovery")
}

func TestRefresh_ForcesFetchPastFreshCache(t *testing.T) {
	config.SetupEnv()
	var hits atomic.Int32
	srv := directoryServer(t, &hits, http.StatusOK, validDirectory())
	svc, store, _ := newService(t, srv.URL)

	now := time.Now()
	_, err := store.Update(func(doc *config.Document) error {
		doc.DiscoveredServices = DefaultEndpoints()
		doc.LastServiceDiscovery = &now
		return nil
	})
	require.NoError(t, err)

	_, source, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceDiscovery, source)
	assert.Equal(t, int32(1), hits.Load())
}

func deadServerURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()
	return url
}

func TestEndpoints_DefaultFallbackWarnsOnce(t *testing.T) {
	config.SetupEnv()
	svc, _, observed := newService(t, deadServerURL(t))

	eps, source, err := svc.Endpoints(context.Background())
	require.NoError(t, err, "fallback endpoints are never an error")
	assert.Equal(t, SourceDefault, source)
	assert.Equal(t, DefaultEndpoints().AuthBase, eps.AuthBase)

	warns := observed.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, warns, 1, "fallback warns exactly once per attempt")
	assert.Equal(t, "default", warns[0].ContextMap()["source"])
}

func TestEndpoints_EnvFallbackNamesSource(t *testing.T) {
	config.SetupEnv()
	t.Setenv("ONASIS_API_BASE", "https://staging.lanonasis.com")

	svc, store, observed := newService(t, deadServerURL(t))

	eps, source, err := svc.Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceEnvironment, source)
	assert.Equal(t, "https://staging.lanonasis.com/api/v1/auth", eps.AuthBase)
	assert.Equal(t, DefaultEndpoints().MCPWSBase, eps.MCPWSBase,
		"env overrides overlay the defaults, they do not erase them")

	warns := observed.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, warns, 1)
	assert.Equal(t, "environment", warns[0].ContextMap()["source"])

	doc, err := store.Load()
	require.NoError(t, err)
	assert.True(t, doc.ManualEndpointOverrides)
}

func TestEndpoints_SkipDiscoveryShortCircuits(t *testing.T) {
	config.SetupEnv()
	t.Setenv("ONASIS_SKIP_DISCOVERY", "true")

	var hits atomic.Int32
	srv := directoryServer(t, &hits, http.StatusOK, validDirectory())
	svc, _, observed := newService(t, srv.URL)

	_, source, err := svc.Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, source)
	assert.Equal(t, int32(0), hits.Load())
	assert.Len(t, observed.FilterLevelExact(zap.WarnLevel).All(), 1,
		"skipping discovery still surfaces the fallback warning")
}

func TestEndpoints_StaleCacheUsedWhenFetchFails(t *testing.T) {
	config.SetupEnv()
	svc, store, observed := newService(t, deadServerURL(t))

	stale := time.Now().Add(-2 * CacheMaxAge)
	cached := DefaultEndpoints()
	cached.AuthBase = "https://cached.example.dev/api/v1/auth"
	_, err := store.Update(func(doc *config.Document) error {
		doc.DiscoveredServices = cached
		doc.LastServiceDiscovery = &stale
		return nil
	})
	require.NoError(t, err)

	_, source, err := svc.Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, source,
		"a cache past its max age no longer counts; fallback takes over")
	assert.Len(t, observed.FilterLevelExact(zap.WarnLevel).All(), 1)
}

func TestFetch_InvalidResponses(t *testing.T) {
	config.SetupEnv()
	tests := []struct {
		name    string
		status  int
		payload any
		want    FailureKind
	}{
		{"server error", http.StatusInternalServerError, nil, FailureServer},
		{"not found", http.StatusNotFound, nil, FailureInvalid},
		{"bad schema", http.StatusOK, map[string]string{"unrelated": "doc"}, FailureInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := directoryServer(t, nil, tt.status, tt.payload)
			svc, _, _ := newService(t, srv.URL)

			_, kind, err := svc.fetch(context.Background(), srv.URL)
			require.Error(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestClassifyFetchError(t *testing.T) {
	assert.Equal(t, FailureTimeout, classifyFetchError(context.DeadlineExceeded))
	assert.Equal(t, FailureNetwork, classifyFetchError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, FailureUnknown, classifyFetchError(errors.New("weird")))
}
