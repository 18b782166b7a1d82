package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer wraps a zapcore.Core and masks credential material before
// it reaches any sink. Patterns cover the credential shapes this client
// handles; resolved secret values can additionally be registered verbatim.
type SecretSanitizer struct {
	zapcore.Core
	patterns      []*secretPattern
	resolvedCache *sync.Map
}

type secretPattern struct {
	name     string
	regex    *regexp.Regexp
	maskFunc func(string) string
}

// NewSecretSanitizer creates a sanitizing core wrapping core.
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	s := &SecretSanitizer{
		Core:          core,
		resolvedCache: &sync.Map{},
	}
	s.registerDefaultPatterns()
	return s
}

func (s *SecretSanitizer) registerDefaultPatterns() {
	// Vendor keys: pk_<id>.sk_<secret>. The pk half identifies the key and
	// may stay visible; the sk half never appears.
	s.patterns = append(s.patterns, &secretPattern{
		name:  "vendor_key",
		regex: regexp.MustCompile(`\b(pk_[A-Za-z0-9]+)\.sk_[A-Za-z0-9]+\b`),
		maskFunc: func(key string) string {
			dot := strings.Index(key, ".")
			if dot < 0 {
				return "****"
			}
			return key[:dot] + ".sk_****"
		},
	})

	// JWT tokens (eyJ...)
	s.patterns = append(s.patterns, &secretPattern{
		name:  "jwt",
		regex: regexp.MustCompile(`\b(eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+)\b`),
		maskFunc: func(jwt string) string {
			parts := strings.Split(jwt, ".")
			if len(parts) != 3 || len(parts[2]) < 4 {
				return "****"
			}
			return parts[0] + ".***." + parts[2][len(parts[2])-4:]
		},
	})

	// CLI session tokens (cli_<issued>_<nonce>)
	s.patterns = append(s.patterns, &secretPattern{
		name:  "cli_token",
		regex: regexp.MustCompile(`\b(cli_\d+_[A-Za-z0-9]+)\b`),
		maskFunc: func(token string) string {
			parts := strings.SplitN(token, "_", 3)
			if len(parts) != 3 {
				return "cli_****"
			}
			return "cli_" + parts[1] + "_****"
		},
	})

	// Authorization header values
	s.patterns = append(s.patterns, &secretPattern{
		name:  "bearer_token",
		regex: regexp.MustCompile(`\b(Bearer\s+[A-Za-z0-9\-\._~\+\/]+=*)\b`),
		maskFunc: func(token string) string {
			parts := strings.SplitN(token, " ", 2)
			if len(parts) != 2 || len(parts[1]) <= 6 {
				return "Bearer ****"
			}
			return "Bearer " + parts[1][:4] + "***" + parts[1][len(parts[1])-2:]
		},
	})

	// Credential passed as an SSE query parameter
	s.patterns = append(s.patterns, &secretPattern{
		name:  "token_query_param",
		regex: regexp.MustCompile(`([?&]token=)[^&\s"']+`),
		maskFunc: func(match string) string {
			eq := strings.Index(match, "=")
			return match[:eq+1] + "****"
		},
	})
}

// RegisterResolvedSecret records a secret value resolved from the keyring,
// environment, or config so any later appearance is masked verbatim.
func (s *SecretSanitizer) RegisterResolvedSecret(value string) {
	if len(value) < 4 {
		return
	}
	s.resolvedCache.Store(value, true)
}

func (s *SecretSanitizer) sanitizeString(str string) string {
	result := str

	s.resolvedCache.Range(func(key, _ interface{}) bool {
		secretValue, ok := key.(string)
		if !ok || len(secretValue) < 8 {
			return true
		}
		result = strings.ReplaceAll(result, secretValue, maskValue(secretValue))
		return true
	})

	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllStringFunc(result, pattern.maskFunc)
	}
	return result
}

// Write sanitizes the entry message and fields before writing.
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitizeString(entry.Message)

	sanitizedFields := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitizedFields[i] = s.sanitizeField(field)
	}
	return s.Core.Write(entry, sanitizedFields)
}

func (s *SecretSanitizer) sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = s.sanitizeString(field.String)
	case zapcore.ByteStringType:
		if b, ok := field.Interface.([]byte); ok {
			field.Interface = []byte(s.sanitizeString(string(b)))
		}
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok {
			sanitized := s.sanitizeString(err.Error())
			if sanitized != err.Error() {
				field = zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: sanitized}
			}
		}
	}
	return field
}

// With creates a sanitizing child core.
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	sanitizedFields := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitizedFields[i] = s.sanitizeField(field)
	}
	return &SecretSanitizer{
		Core:          s.Core.With(sanitizedFields),
		patterns:      s.patterns,
		resolvedCache: s.resolvedCache,
	}
}

// Check delegates to the wrapped core so sanitization applies on write.
func (s *SecretSanitizer) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

func maskValue(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}
