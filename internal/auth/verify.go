package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/faults"
)

const (
	healthPath = "/health"
	verifyPath = "/verify"
)

// IsAuthenticated reports whether a usable, currently-valid credential is
// available. Diagnostics go to the log; callers that need the reason use
// EnsureAuthenticated.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	return m.EnsureAuthenticated(ctx) == nil
}

// EnsureAuthenticated returns nil when the resolved credential is currently
// valid, an authentication fault otherwise. Validation results are cached:
// a server-side success within KeyValidationTTL is trusted without another
// round trip, and within OfflineGracePeriod an unreachable validation
// endpoint does not invalidate a previously-validated credential. An
// explicit 401/403 always wins over local validity.
func (m *Manager) EnsureAuthenticated(ctx context.Context) error {
	doc, err := m.store.Load()
	if err != nil {
		return err
	}
	cred := m.resolveDoc(ctx, doc)
	if cred == nil {
		return faults.New(faults.AuthRequired, "no credentials configured")
	}
	if cred.Kind == KindVendorKey {
		return m.ensureVendorKey(ctx, doc, cred)
	}

	// Renew a near-expiry token first so the validity check below sees the
	// freshest credential. A failed renewal is not fatal here; verification
	// below still decides.
	if err := m.RefreshIfNeeded(ctx); err != nil {
		m.logger.Warn("proactive token refresh failed", zap.Error(err))
	} else if fresh, err := m.store.Load(); err == nil {
		doc = fresh
		if cred = m.resolveDoc(ctx, doc); cred == nil {
			return faults.New(faults.AuthRequired, "no credentials configured")
		}
	}
	return m.ensureToken(ctx, doc, cred)
}

func (m *Manager) ensureVendorKey(ctx context.Context, doc *config.Document, cred *Credential) error {
	if within(doc.LastKeyValidation, KeyValidationTTL) {
		m.logger.Debug("vendor key trusted from recent validation",
			zap.Timep("validated_at", doc.LastKeyValidation))
		return nil
	}

	err := m.probeKey(ctx, cred)
	switch {
	case err == nil:
		m.recordValidation(KindVendorKey)
		return nil
	case faults.ClassOf(err) == faults.AuthInvalid:
		m.recordAuthFailure()
		return err
	default:
		if within(doc.LastKeyValidation, OfflineGracePeriod) {
			m.logger.Warn("credential check unreachable, trusting recent validation",
				zap.Timep("validated_at", doc.LastKeyValidation),
				zap.Error(err))
			return nil
		}
		return faults.Wrap(faults.AuthRequired,
			"vendor key could not be verified and the offline grace period has lapsed", err)
	}
}

func (m *Manager) ensureToken(ctx context.Context, doc *config.Document, cred *Credential) error {
	now := time.Now()

	if cred.ExpiredAt(now) {
		// One server-side check before declaring the token dead, in case
		// the local clock is skewed.
		err := m.verifyRemote(ctx, cred)
		switch {
		case err == nil:
			m.recordValidation(cred.Kind)
			return nil
		case faults.ClassOf(err) == faults.AuthInvalid:
			m.recordAuthFailure()
			return err
		default:
			return faults.Wrap(faults.AuthRequired, "token is expired", err)
		}
	}

	if within(doc.LastAuthSuccess, KeyValidationTTL) {
		return nil
	}

	err := m.verifyRemote(ctx, cred)
	switch {
	case err == nil:
		m.recordValidation(cred.Kind)
		return nil
	case faults.ClassOf(err) == faults.AuthInvalid:
		m.recordAuthFailure()
		return err
	default:
		if m.withinTokenGrace(doc, cred, now) {
			m.logger.Warn("credential check unreachable, trusting locally valid token",
				zap.Error(err))
			return nil
		}
		return faults.Wrap(faults.AuthRequired,
			"token could not be verified and the offline grace period has lapsed", err)
	}
}

// withinTokenGrace decides whether a locally valid token survives an
// unreachable verification endpoint: either a recent server-side success or
// a recent issuance keeps it alive.
func (m *Manager) withinTokenGrace(doc *config.Document, cred *Credential, now time.Time) bool {
	if within(doc.LastAuthSuccess, OfflineGracePeriod) {
		return true
	}
	return cred.IssuedAt != nil && now.Sub(*cred.IssuedAt) < OfflineGracePeriod
}

// probeKey checks a vendor key against the auth health endpoint.
func (m *Manager) probeKey(ctx context.Context, cred *Credential) error {
	client, err := m.authClient(ctx, staticHeader(cred))
	if err != nil {
		return err
	}
	return client.Get(ctx, healthPath, nil)
}

// verifyRemote asks the server whether a bearer token is still accepted.
func (m *Manager) verifyRemote(ctx context.Context, cred *Credential) error {
	client, err := m.authClient(ctx, staticHeader(cred))
	if err != nil {
		return err
	}
	return client.Get(ctx, verifyPath, nil)
}

func within(t *time.Time, window time.Duration) bool {
	return t != nil && time.Since(*t) < window
}
