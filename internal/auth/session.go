package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/config"
	"github.com/lanonasis/memctl-go/internal/credstore"
	"github.com/lanonasis/memctl-go/internal/faults"
)

const (
	loginPath   = "/login"
	refreshPath = "/refresh"
)

// tokenResponse covers both the login and refresh response shapes; the
// service has used the token and access_token spellings interchangeably.
type tokenResponse struct {
	Token        string     `json:"token"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

func (r *tokenResponse) bearer() string {
	if r.Token != "" {
		return r.Token
	}
	return r.AccessToken
}

func (r *tokenResponse) expiry(now time.Time) *time.Time {
	if r.ExpiresAt != nil {
		return r.ExpiresAt
	}
	if r.ExpiresIn > 0 {
		t := now.Add(time.Duration(r.ExpiresIn) * time.Second)
		return &t
	}
	return nil
}

// LoginWithPassword exchanges email/password for a session token and stores
// it. Repeated failed attempts are throttled before the request is sent.
func (m *Manager) LoginWithPassword(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return faults.New(faults.Validation, "email and password are required")
	}
	if err := m.maybeDelay(ctx); err != nil {
		return err
	}

	client, err := m.authClient(ctx, nil)
	if err != nil {
		return err
	}

	var resp tokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := client.Post(ctx, loginPath, body, &resp); err != nil {
		if faults.ClassOf(err) == faults.AuthInvalid {
			m.recordAuthFailure()
		}
		return err
	}

	token := resp.bearer()
	if token == "" {
		return faults.New(faults.Server, "login response did not include a token")
	}
	return m.storeToken(token, resp.RefreshToken, resp.expiry(time.Now()))
}

// SetToken stores a token obtained out of band (dashboard copy, CI secret).
// Vendor keys passed here are routed through SetVendorKey so they get
// encrypted at rest.
func (m *Manager) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return faults.New(faults.Validation, "token must not be empty")
	}
	if classifyValue(token) == KindVendorKey {
		return m.SetVendorKey(ctx, token)
	}
	return m.storeToken(token, "", nil)
}

// SetVendorKey validates a vendor key against the server, then encrypts and
// persists it as the authoritative credential.
func (m *Manager) SetVendorKey(ctx context.Context, key string) error {
	if !ValidVendorKeyFormat(key) {
		return faults.New(faults.Validation, "vendor key must match pk_<id>.sk_<secret>")
	}
	if err := m.maybeDelay(ctx); err != nil {
		return err
	}

	cred := &Credential{Kind: KindVendorKey, Value: key}
	if err := m.probeKey(ctx, cred); err != nil {
		if faults.ClassOf(err) == faults.AuthInvalid {
			m.recordAuthFailure()
		}
		return err
	}

	blob, err := credstore.Encrypt(key, config.EnvVaultPassphrase())
	if err != nil {
		return err
	}
	hash := credstore.Hash(key)

	_, err = m.store.Update(func(doc *config.Document) error {
		now := time.Now()
		doc.VendorKey = blob
		doc.VendorKeyHash = hash
		doc.AuthMethod = config.AuthVendorKey
		doc.AuthFailureCount = 0
		doc.LastAuthFailure = nil
		doc.LastKeyValidation = &now
		doc.LastAuthSuccess = &now
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("vendor key stored", zap.String("key_hash", hash[:12]))
	return nil
}

// Logout clears stored credentials. Device identity, discovered endpoints,
// and the preferred connection mode survive so the next login starts warm.
func (m *Manager) Logout() error {
	_, err := m.store.Update(func(doc *config.Document) error {
		doc.ClearCredentials()
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("logged out")
	return nil
}

// RefreshIfNeeded renews the stored token when it is within RefreshLeadTime
// of expiry. CLI tokens and tokens without a known expiry are left alone.
func (m *Manager) RefreshIfNeeded(ctx context.Context) error {
	doc, err := m.store.Load()
	if err != nil {
		return err
	}
	if doc.Token == "" {
		return nil
	}
	cred := tokenCredential(doc)
	if cred.Kind == KindCLIToken || cred.Expiry == nil {
		return nil
	}
	if time.Until(*cred.Expiry) > RefreshLeadTime {
		return nil
	}

	m.logger.Info("refreshing token",
		zap.String("kind", string(cred.Kind)),
		zap.Time("expiry", *cred.Expiry))

	client, err := m.authClient(ctx, staticHeader(cred))
	if err != nil {
		return err
	}

	var body any
	if doc.RefreshToken != "" {
		body = map[string]string{"refresh_token": doc.RefreshToken}
	}
	var resp tokenResponse
	if err := client.Post(ctx, refreshPath, body, &resp); err != nil {
		if faults.ClassOf(err) == faults.AuthInvalid {
			m.recordAuthFailure()
		}
		return err
	}

	token := resp.bearer()
	if token == "" {
		return faults.New(faults.Server, "refresh response did not include a token")
	}
	refresh := resp.RefreshToken
	if refresh == "" {
		refresh = doc.RefreshToken
	}
	return m.storeToken(token, refresh, resp.expiry(time.Now()))
}

// storeToken persists a newly issued bearer token and resets failure state.
func (m *Manager) storeToken(token, refreshToken string, expiry *time.Time) error {
	kind := classifyValue(token)
	method := config.AuthJWT
	if kind == KindOAuth {
		method = config.AuthOAuth
	}
	if expiry == nil {
		switch kind {
		case KindJWT:
			expiry, _ = jwtClaimTimes(token)
		case KindCLIToken:
			if issued, ok := cliTokenIssuedAt(token); ok {
				t := issued.Add(CLITokenLifetime)
				expiry = &t
			}
		}
	}

	_, err := m.store.Update(func(doc *config.Document) error {
		now := time.Now()
		doc.Token = token
		doc.RefreshToken = refreshToken
		doc.TokenExpiry = expiry
		doc.AuthMethod = method
		doc.AuthFailureCount = 0
		doc.LastAuthFailure = nil
		doc.LastAuthSuccess = &now
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("credentials stored", zap.String("kind", string(kind)))
	return nil
}
