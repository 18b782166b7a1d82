// Package secret resolves credential references so vendor keys never have
// to be pasted in plaintext: "env:NAME" reads an environment variable,
// "keyring:NAME" reads the OS keyring. Literal values pass through.
package secret

import (
	"context"
	"fmt"
	"strings"
)

// Ref is a parsed secret reference.
type Ref struct {
	Type     string // env, keyring
	Name     string // variable name or keyring alias
	Original string // the reference as supplied
}

// Provider resolves one reference type.
type Provider interface {
	// CanResolve reports whether this provider handles the given type.
	CanResolve(secretType string) bool

	// Resolve retrieves the secret value.
	Resolve(ctx context.Context, ref Ref) (string, error)

	// Store saves a secret, when the backend supports writing.
	Store(ctx context.Context, ref Ref, value string) error

	// Delete removes a stored secret, when the backend supports it.
	Delete(ctx context.Context, ref Ref) error

	// IsAvailable checks that the backend works on this system.
	IsAvailable() bool
}

// ParseRef parses "type:name", tolerating the ${type:name} wrapper form.
func ParseRef(input string) (*Ref, error) {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") {
		trimmed = trimmed[2 : len(trimmed)-1]
	}

	idx := strings.Index(trimmed, ":")
	if idx <= 0 || idx == len(trimmed)-1 {
		return nil, fmt.Errorf("invalid secret reference format: %s", input)
	}

	return &Ref{
		Type:     strings.TrimSpace(trimmed[:idx]),
		Name:     strings.TrimSpace(trimmed[idx+1:]),
		Original: input,
	}, nil
}

// IsRef reports whether input looks like a secret reference rather than a
// literal credential. Only known reference types qualify, so key material
// containing colons is never misparsed.
func IsRef(input string) bool {
	ref, err := ParseRef(input)
	if err != nil {
		return false
	}
	switch ref.Type {
	case SecretTypeEnv, SecretTypeKeyring:
		return true
	default:
		return false
	}
}

// Resolver dispatches references across the configured providers.
type Resolver struct {
	providers []Provider
}

// NewResolver creates a resolver with the default provider set.
func NewResolver() *Resolver {
	return &Resolver{providers: []Provider{NewEnvProvider(), NewKeyringProvider()}}
}

// NewResolverWith creates a resolver over an explicit provider list.
func NewResolverWith(providers ...Provider) *Resolver {
	return &Resolver{providers: providers}
}

// Resolve returns the secret value for input. Literal inputs are returned
// unchanged with resolved=false; reference inputs are dereferenced through
// the matching provider.
func (r *Resolver) Resolve(ctx context.Context, input string) (value string, resolved bool, err error) {
	if !IsRef(input) {
		return input, false, nil
	}
	ref, err := ParseRef(input)
	if err != nil {
		return "", false, err
	}
	for _, p := range r.providers {
		if !p.CanResolve(ref.Type) {
			continue
		}
		if !p.IsAvailable() {
			return "", false, fmt.Errorf("secret backend %q is not available on this system", ref.Type)
		}
		v, err := p.Resolve(ctx, *ref)
		if err != nil {
			return "", false, err
		}
		return v, true, nil
	}
	return "", false, fmt.Errorf("no provider for secret reference type %q", ref.Type)
}

// Store saves value under ref through the first capable provider.
func (r *Resolver) Store(ctx context.Context, ref Ref, value string) error {
	for _, p := range r.providers {
		if p.CanResolve(ref.Type) {
			return p.Store(ctx, ref, value)
		}
	}
	return fmt.Errorf("no provider for secret reference type %q", ref.Type)
}

// Mask renders a secret value for display: enough to recognize, never
// enough to use.
func Mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "****" + value[len(value)-2:]
}
