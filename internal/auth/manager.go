// Package auth resolves credentials across their storage locations, decides
// whether the CLI is currently authenticated, and keeps session tokens fresh.
// It owns the failure accounting that throttles repeated bad attempts.
package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/credstore"
	"github.com/lanonasis/memctl-go/internal/discovery"
	"github.com/lanonasis/memctl-go/internal/restapi"
	"github.com/lanonasis/memctl-go/internal/secret"
)

const (
	// KeyValidationTTL is how long a successful server-side credential check
	// is trusted before the next use re-validates.
	KeyValidationTTL = 24 * time.Hour

	// OfflineGracePeriod is how long a previously-validated credential keeps
	// working when the validation endpoint is unreachable. An explicit
	// server rejection always ends the grace early.
	OfflineGracePeriod = 7 * 24 * time.Hour

	// RefreshLeadTime is how close to expiry a refreshable token gets
	// proactively renewed.
	RefreshLeadTime = 5 * time.Minute

	// DelayThreshold is the consecutive-failure count at which attempts
	// start being throttled.
	DelayThreshold = 3

	// BaseAuthDelay and MaxAuthDelay bound the throttle: 2s, 4s, 8s, 16s.
	BaseAuthDelay = 2 * time.Second
	MaxAuthDelay  = 16 * time.Second
)

// EndpointSource yields the resolved service endpoints. *discovery.Service
// satisfies it; tests substitute fixed endpoints.
type EndpointSource interface {
	Endpoints(ctx context.Context) (*config.DiscoveredEndpoints, discovery.Source, error)
}

// Manager is the credential authority for one config store.
type Manager struct {
	store     *config.Store
	endpoints EndpointSource
	secrets   *secret.Resolver
	logger    *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager wires a Manager. secrets may be nil, in which case the default
// resolver chain (environment, OS keyring) is used.
func NewManager(store *config.Store, endpoints EndpointSource, secrets *secret.Resolver, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if secrets == nil {
		secrets = secret.NewResolver()
	}
	return &Manager{
		store:     store,
		endpoints: endpoints,
		secrets:   secrets,
		logger:    logger.With(zap.String("component", "auth")),
		sleep:     sleepCtx,
	}
}

// ResolveCredential picks the credential to use for outgoing requests.
// Precedence: the declared authMethod's credential first, then any stored
// credential, then the environment API key. Returns nil without error when
// nothing is configured.
func (m *Manager) ResolveCredential(ctx context.Context) (*Credential, error) {
	doc, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	return m.resolveDoc(ctx, doc), nil
}

func (m *Manager) resolveDoc(ctx context.Context, doc *config.Document) *Credential {
	if doc.AuthMethod == config.AuthVendorKey {
		if cred := m.vendorCredential(doc); cred != nil {
			return cred
		}
	}
	if (doc.AuthMethod == config.AuthJWT || doc.AuthMethod == config.AuthOAuth) && doc.Token != "" {
		return tokenCredential(doc)
	}

	if cred := m.vendorCredential(doc); cred != nil {
		return cred
	}
	if doc.Token != "" {
		return tokenCredential(doc)
	}

	if raw := config.EnvAPIKey(); raw != "" {
		value, _, err := m.secrets.Resolve(ctx, raw)
		if err != nil {
			m.logger.Warn("failed to resolve environment API key", zap.Error(err))
		} else if value != "" {
			return envCredential(value)
		}
	}
	return nil
}

// vendorCredential decrypts the stored vendor key. A blob that fails to
// decrypt (different machine, wrong passphrase, corruption) is skipped so
// resolution can fall through to other credentials.
func (m *Manager) vendorCredential(doc *config.Document) *Credential {
	if doc.VendorKey == nil {
		return nil
	}
	key, err := credstore.Decrypt(doc.VendorKey, config.EnvVaultPassphrase())
	if err != nil {
		m.logger.Warn("stored vendor key is not decryptable on this machine", zap.Error(err))
		return nil
	}
	return &Credential{Kind: KindVendorKey, Value: key}
}

// tokenCredential classifies the stored bearer token and derives its local
// expiry.
func tokenCredential(doc *config.Document) *Credential {
	cred := &Credential{Value: doc.Token, Kind: classifyValue(doc.Token)}
	switch cred.Kind {
	case KindCLIToken:
		if issued, ok := cliTokenIssuedAt(doc.Token); ok {
			exp := issued.Add(CLITokenLifetime)
			cred.IssuedAt = &issued
			cred.Expiry = &exp
		}
	case KindJWT:
		exp, iat := jwtClaimTimes(doc.Token)
		cred.Expiry = exp
		cred.IssuedAt = iat
		if exp == nil {
			cred.Expiry = doc.TokenExpiry
		}
	default:
		cred.Kind = KindOAuth
		cred.Expiry = doc.TokenExpiry
	}
	return cred
}

func envCredential(value string) *Credential {
	cred := &Credential{Value: value, Kind: classifyValue(value), FromEnv: true}
	switch cred.Kind {
	case KindCLIToken:
		if issued, ok := cliTokenIssuedAt(value); ok {
			exp := issued.Add(CLITokenLifetime)
			cred.IssuedAt = &issued
			cred.Expiry = &exp
		}
	case KindJWT:
		cred.Expiry, cred.IssuedAt = jwtClaimTimes(value)
	}
	return cred
}

// HeaderSource adapts the manager for restapi clients. The credential is
// re-resolved per request so refreshed tokens take effect immediately.
func (m *Manager) HeaderSource() restapi.HeaderSource {
	return func() *restapi.CredentialHeader {
		cred, err := m.ResolveCredential(context.Background())
		if err != nil || cred == nil {
			return nil
		}
		return cred.Header()
	}
}

// authClient builds a REST client against the discovered auth base.
func (m *Manager) authClient(ctx context.Context, source restapi.HeaderSource) (*restapi.Client, error) {
	eps, _, err := m.endpoints.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	return restapi.NewClient(eps.AuthBase, eps.ProjectScope, source, m.logger), nil
}

func staticHeader(cred *Credential) restapi.HeaderSource {
	return func() *restapi.CredentialHeader { return cred.Header() }
}

// ShouldDelayAuth reports whether the consecutive-failure count has reached
// the throttle threshold.
func (m *Manager) ShouldDelayAuth() (bool, error) {
	doc, err := m.store.Load()
	if err != nil {
		return false, err
	}
	return doc.AuthFailureCount >= DelayThreshold, nil
}

// DelayFor returns the throttle applied before an attempt when failures
// consecutive failures have already happened: 0 below the threshold, then
// 2s, 4s, 8s, capped at 16s.
func DelayFor(failures int) time.Duration {
	if failures < DelayThreshold {
		return 0
	}
	shift := uint(failures - DelayThreshold)
	if shift > 3 {
		shift = 3
	}
	d := BaseAuthDelay << shift
	if d > MaxAuthDelay {
		d = MaxAuthDelay
	}
	return d
}

// maybeDelay sleeps out the current throttle, if any, before an attempt.
func (m *Manager) maybeDelay(ctx context.Context) error {
	doc, err := m.store.Load()
	if err != nil {
		return err
	}
	delay := DelayFor(doc.AuthFailureCount)
	if delay == 0 {
		return nil
	}
	m.logger.Warn("throttling authentication attempt after repeated failures",
		zap.Int("failures", doc.AuthFailureCount),
		zap.Duration("delay", delay))
	return m.sleep(ctx, delay)
}

// recordAuthFailure bumps the failure counter after an explicit rejection.
func (m *Manager) recordAuthFailure() {
	_, err := m.store.Update(func(doc *config.Document) error {
		doc.AuthFailureCount++
		now := time.Now()
		doc.LastAuthFailure = &now
		return nil
	})
	if err != nil {
		m.logger.Warn("failed to persist auth failure counter", zap.Error(err))
	}
}

// recordValidation resets the failure counter and stamps the validation
// times after any successful server-side check.
func (m *Manager) recordValidation(kind CredentialKind) {
	_, err := m.store.Update(func(doc *config.Document) error {
		now := time.Now()
		doc.AuthFailureCount = 0
		doc.LastAuthFailure = nil
		doc.LastAuthSuccess = &now
		if kind == KindVendorKey {
			doc.LastKeyValidation = &now
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("failed to persist auth validation state", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
