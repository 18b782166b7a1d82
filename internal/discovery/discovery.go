// Package discovery resolves the service topology: a well-known document
// fetched from an ordered list of hosts, a persisted cache for offline
// startups, and an env/default fallback chain that is observable but never
// fatal.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/config"
)

const (
	// WellKnownPath is appended to each discovery base URL.
	WellKnownPath = "/.well-known/onasis.json"

	// AttemptTimeout bounds each individual URL fetch.
	AttemptTimeout = 10 * time.Second

	// CacheMaxAge is how long a persisted discovery result stays usable.
	CacheMaxAge = 24 * time.Hour
)

// FailureKind categorizes a failed fetch for diagnostics. Behavior never
// branches on these; every failure falls through the same chain.
type FailureKind string

const (
	FailureNetwork FailureKind = "network_error"
	FailureTimeout FailureKind = "timeout"
	FailureServer  FailureKind = "server_error"
	FailureInvalid FailureKind = "invalid_response"
	FailureUnknown FailureKind = "unknown"
)

// Source names where the effective endpoints came from.
type Source string

const (
	SourceDiscovery   Source = "discovery"
	SourceCache       Source = "cache"
	SourceEnvironment Source = "environment"
	SourceDefault     Source = "default"
)

// DefaultBaseURLs is the hard-coded production attempt order.
func DefaultBaseURLs() []string {
	return []string{
		"https://api.lanonasis.com",
		"https://lanonasis.com",
	}
}

// DefaultEndpoints returns the hard-coded production topology used when
// discovery, cache, and environment all come up empty.
func DefaultEndpoints() *config.DiscoveredEndpoints {
	return &config.DiscoveredEndpoints{
		AuthBase:     "https://api.lanonasis.com/api/v1/auth",
		MemoryBase:   "https://api.lanonasis.com/api/v1/memory",
		MCPBase:      "https://mcp.lanonasis.com",
		MCPWSBase:    "wss://mcp.lanonasis.com/ws",
		MCPSSEBase:   "https://mcp.lanonasis.com/sse",
		ProjectScope: "lanonasis-maas",
	}
}

// Service fetches and caches the endpoint directory.
type Service struct {
	store      *config.Store
	logger     *zap.Logger
	httpClient *http.Client

	// BaseURLs overrides the attempt order; tests point it at stubs.
	BaseURLs []string
}

// New creates a discovery service over the given config store.
func New(store *config.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		logger:     logger.With(zap.String("component", "discovery")),
		httpClient: &http.Client{Timeout: AttemptTimeout},
		BaseURLs:   DefaultBaseURLs(),
	}
}

// Endpoints returns the effective service topology. A fresh cache is used
// without touching the network; otherwise discovery runs and failures fall
// back to cache, then environment, then defaults.
func (s *Service) Endpoints(ctx context.Context) (*config.DiscoveredEndpoints, Source, error) {
	return s.resolve(ctx, false)
}

// Refresh forces a new discovery attempt even when the cache is fresh.
func (s *Service) Refresh(ctx context.Context) (*config.DiscoveredEndpoints, Source, error) {
	return s.resolve(ctx, true)
}

func (s *Service) resolve(ctx context.Context, force bool) (*config.DiscoveredEndpoints, Source, error) {
	doc, err := s.store.Load()
	if err != nil {
		return nil, "", err
	}

	if !force && cacheFresh(doc) {
		return doc.DiscoveredServices, SourceCache, nil
	}

	if config.EnvSkipDiscovery() {
		eps, source := s.fallback()
		return eps, source, nil
	}

	if eps := s.discover(ctx); eps != nil {
		s.persist(eps)
		return eps, SourceDiscovery, nil
	}

	// Every URL failed. A cache younger than the max age is still good,
	// silently; after that the fallback chain takes over.
	if cacheFresh(doc) {
		return doc.DiscoveredServices, SourceCache, nil
	}

	eps, source := s.fallback()
	return eps, source, nil
}

func cacheFresh(doc *config.Document) bool {
	return doc.DiscoveredServices.Complete() &&
		doc.LastServiceDiscovery != nil &&
		time.Since(*doc.LastServiceDiscovery) < CacheMaxAge
}

// discover walks the attempt order and returns the first parseable
// directory, or nil when every URL fails.
func (s *Service) discover(ctx context.Context) *config.DiscoveredEndpoints {
	urls := s.BaseURLs
	if override := config.EnvDiscoveryURL(); override != "" {
		urls = append([]string{override}, urls...)
	}

	for _, base := range urls {
		eps, kind, err := s.fetch(ctx, base)
		if err != nil {
			s.logger.Debug("discovery fetch failed",
				zap.String("base_url", base),
				zap.String("failure", string(kind)),
				zap.Error(err))
			continue
		}
		s.logger.Debug("discovery succeeded", zap.String("base_url", base))
		return eps
	}
	return nil
}

func (s *Service) fetch(ctx context.Context, baseURL string) (*config.DiscoveredEndpoints, FailureKind, error) {
	url := strings.TrimRight(baseURL, "/") + WellKnownPath

	attemptCtx, cancel := context.WithTimeout(ctx, AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, FailureUnknown, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, classifyFetchError(err), fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, FailureServer, fmt.Errorf("discovery endpoint returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, FailureInvalid, fmt.Errorf("discovery endpoint returned %d", resp.StatusCode)
	}

	eps := &config.DiscoveredEndpoints{}
	if err := json.NewDecoder(resp.Body).Decode(eps); err != nil {
		return nil, FailureInvalid, fmt.Errorf("failed to parse discovery document: %w", err)
	}
	if !eps.Complete() {
		return nil, FailureInvalid, fmt.Errorf("discovery document is missing required endpoints")
	}
	if eps.ProjectScope == "" {
		eps.ProjectScope = DefaultEndpoints().ProjectScope
	}
	return eps, "", nil
}

func classifyFetchError(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureNetwork
	}
	return FailureUnknown
}

// fallback assembles endpoints from environment overrides over the built-in
// defaults. It warns exactly once per attempt, naming the source, so runs
// against non-discovered endpoints are always visible in logs.
func (s *Service) fallback() (*config.DiscoveredEndpoints, Source) {
	eps := DefaultEndpoints()
	source := SourceDefault

	if env := config.EnvEndpoints(); env != nil {
		overlay(eps, env)
		source = SourceEnvironment
	}

	s.logger.Warn("service discovery unavailable, using fallback endpoints",
		zap.String("source", string(source)),
		zap.String("auth_base", eps.AuthBase),
		zap.String("mcp_base", eps.MCPBase))

	if source == SourceEnvironment {
		s.markManualOverrides()
	}
	return eps, source
}

func overlay(base, over *config.DiscoveredEndpoints) {
	if over.AuthBase != "" {
		base.AuthBase = over.AuthBase
	}
	if over.MemoryBase != "" {
		base.MemoryBase = over.MemoryBase
	}
	if over.MCPBase != "" {
		base.MCPBase = over.MCPBase
	}
	if over.MCPWSBase != "" {
		base.MCPWSBase = over.MCPWSBase
	}
	if over.MCPSSEBase != "" {
		base.MCPSSEBase = over.MCPSSEBase
	}
	if over.ProjectScope != "" {
		base.ProjectScope = over.ProjectScope
	}
}

func (s *Service) persist(eps *config.DiscoveredEndpoints) {
	now := time.Now()
	_, err := s.store.Update(func(doc *config.Document) error {
		doc.DiscoveredServices = eps
		doc.LastServiceDiscovery = &now
		doc.ManualEndpointOverrides = false
		return nil
	})
	if err != nil {
		// Discovery succeeded; a failed cache write only costs the next
		// startup another fetch.
		s.logger.Warn("failed to persist discovered endpoints", zap.Error(err))
	}
}

func (s *Service) markManualOverrides() {
	_, err := s.store.Update(func(doc *config.Document) error {
		doc.ManualEndpointOverrides = true
		return nil
	})
	if err != nil {
		s.logger.Debug("failed to persist manual override flag", zap.Error(err))
	}
}
