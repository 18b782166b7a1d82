package auth

import (
	"regexp"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lanonasis/memctl-go/internal/restapi"
)

// CredentialKind tags the credential variants the platform accepts.
type CredentialKind string

const (
	// KindVendorKey is a long-lived API key of the form pk_<id>.sk_<secret>,
	// sent as X-API-Key.
	KindVendorKey CredentialKind = "vendor_key"
	// KindJWT is a signed bearer token with an exp claim.
	KindJWT CredentialKind = "jwt"
	// KindCLIToken is a cli_<unixSeconds>_<nonce> token minted by the login
	// endpoint, valid for a fixed window from its embedded issue time.
	KindCLIToken CredentialKind = "cli_token"
	// KindOAuth is an opaque access token paired with a refresh token.
	KindOAuth CredentialKind = "oauth"
)

// CLITokenLifetime is how long a cli_* token stays valid after issue.
const CLITokenLifetime = 30 * 24 * time.Hour

var (
	vendorKeyPattern = regexp.MustCompile(`^pk_[A-Za-z0-9]+\.sk_[A-Za-z0-9]+$`)
	cliTokenPattern  = regexp.MustCompile(`^cli_(\d+)_[A-Za-z0-9]+$`)
)

// Credential is the resolved authentication material for outgoing requests.
// Expiry is nil when no local expiry is derivable (vendor keys, opaque
// tokens without stored metadata).
type Credential struct {
	Kind     CredentialKind
	Value    string
	Expiry   *time.Time
	IssuedAt *time.Time
	FromEnv  bool
}

// Header maps the credential onto the wire headers.
func (c *Credential) Header() *restapi.CredentialHeader {
	if c == nil || c.Value == "" {
		return nil
	}
	switch c.Kind {
	case KindVendorKey:
		return &restapi.CredentialHeader{Scheme: restapi.SchemeAPIKey, Value: c.Value, Method: "vendor_key"}
	case KindOAuth:
		return &restapi.CredentialHeader{Scheme: restapi.SchemeBearer, Value: c.Value, Method: "oauth"}
	default:
		return &restapi.CredentialHeader{Scheme: restapi.SchemeBearer, Value: c.Value, Method: "jwt"}
	}
}

// ExpiredAt reports whether the credential is past its local expiry at the
// given instant. Credentials without a derivable expiry never expire locally.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return c.Expiry != nil && !c.Expiry.After(now)
}

// ValidVendorKeyFormat checks the pk_<id>.sk_<secret> shape without touching
// the network.
func ValidVendorKeyFormat(key string) bool {
	return vendorKeyPattern.MatchString(key)
}

// classifyValue buckets a raw credential string by shape.
func classifyValue(v string) CredentialKind {
	switch {
	case vendorKeyPattern.MatchString(v):
		return KindVendorKey
	case cliTokenPattern.MatchString(v):
		return KindCLIToken
	case looksLikeJWT(v):
		return KindJWT
	default:
		return KindOAuth
	}
}

func looksLikeJWT(v string) bool {
	if len(v) < 8 || v[:3] != "eyJ" {
		return false
	}
	dots := 0
	for i := 0; i < len(v); i++ {
		if v[i] == '.' {
			dots++
		}
	}
	return dots == 2
}

// cliTokenIssuedAt extracts the unix issue timestamp embedded in a cli_*
// token.
func cliTokenIssuedAt(token string) (time.Time, bool) {
	m := cliTokenPattern.FindStringSubmatch(token)
	if m == nil {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

// jwtClaimTimes parses exp and iat from a JWT without verifying the
// signature. Validity is the server's call; locally only the timestamps
// matter.
func jwtClaimTimes(token string) (exp, iat *time.Time) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, nil
	}
	if expDate, err := parsed.Claims.GetExpirationTime(); err == nil && expDate != nil {
		t := expDate.Time
		exp = &t
	}
	if iatDate, err := parsed.Claims.GetIssuedAt(); err == nil && iatDate != nil {
		t := iatDate.Time
		iat = &t
	}
	return exp, iat
}
