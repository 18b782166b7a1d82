package restapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/faults"
)

func bearerSource(token string) HeaderSource {
	return func() *CredentialHeader {
		return &CredentialHeader{Scheme: SchemeBearer, Value: token, Method: "jwt"}
	}
}

func TestDo_StampsCredentialAndTracingHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "lanonasis-maas", bearerSource("tok-123"), zap.NewNop())
	require.NoError(t, client.Get(context.Background(), "/health", nil))

	assert.Equal(t, "Bearer tok-123", got.Get("Authorization"))
	assert.Equal(t, "jwt", got.Get("X-Auth-Method"))
	assert.Equal(t, "lanonasis-maas", got.Get("X-Project-Scope"))
	assert.NotEmpty(t, got.Get("X-Request-ID"))
	assert.Equal(t, "application/json", got.Get("Accept"))
}

func TestDo_FreshRequestIDPerCall(t *testing.T) {
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, r.Header.Get("X-Request-ID"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil, zap.NewNop())
	require.NoError(t, client.Get(context.Background(), "/a", nil))
	require.NoError(t, client.Get(context.Background(), "/a", nil))

	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.NotEqual(t, ids[0], ids[1])
}

func TestDo_APIKeyScheme(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	source := func() *CredentialHeader {
		return &CredentialHeader{Scheme: SchemeAPIKey, Value: "pk_a.sk_b", Method: "vendor_key"}
	}
	client := NewClient(srv.URL, "", source, zap.NewNop())
	require.NoError(t, client.Get(context.Background(), "/health", nil))

	assert.Equal(t, "pk_a.sk_b", got.Get("X-API-Key"))
	assert.Empty(t, got.Get("Authorization"))
	assert.Equal(t, "vendor_key", got.Get("X-Auth-Method"))
}

func TestDo_AnonymousWhenNoSource(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil, zap.NewNop())
	require.NoError(t, client.Get(context.Background(), "/public", nil))

	assert.Empty(t, got.Get("Authorization"))
	assert.Empty(t, got.Get("X-API-Key"))
	assert.Empty(t, got.Get("X-Auth-Method"))
}

func TestDo_DecodesResponse(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/memories", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"mem-1","title":"note"}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := NewClient(srv.URL, "", bearerSource("tok"), zap.NewNop())

	var out struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	err := client.Post(context.Background(), "/memories", map[string]string{"title": "note"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "mem-1", out.ID)
	assert.Equal(t, "note", out.Title)
}

func TestDo_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		class  faults.Class
	}{
		{"unauthorized", http.StatusUnauthorized, faults.AuthInvalid},
		{"forbidden", http.StatusForbidden, faults.AuthInvalid},
		{"not found", http.StatusNotFound, faults.Validation},
		{"unprocessable", http.StatusUnprocessableEntity, faults.Validation},
		{"server error", http.StatusInternalServerError, faults.Server},
		{"bad gateway", http.StatusBadGateway, faults.Server},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "", nil, zap.NewNop())
			err := client.Get(context.Background(), "/x", nil)
			require.Error(t, err)
			assert.Equal(t, tt.class, faults.ClassOf(err))
		})
	}
}

func TestDo_ErrorDetailFromBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"token expired"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil, zap.NewNop())
	err := client.Get(context.Background(), "/me", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")
}

func TestDo_NetworkFaultOnDeadServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(url, "", nil, zap.NewNop())
	err := client.Get(context.Background(), "/health", nil)
	require.Error(t, err)
	assert.Equal(t, faults.Network, faults.ClassOf(err))
	assert.True(t, faults.Retryable(err))
}

func TestDo_MalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil, zap.NewNop())
	var out map[string]any
	err := client.Get(context.Background(), "/x", &out)
	require.Error(t, err)
	assert.Equal(t, faults.Server, faults.ClassOf(err))
}
