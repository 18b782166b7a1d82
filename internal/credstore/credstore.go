// Package credstore handles vendor key material at rest: one-way hashing
// for identification and authenticated encryption bound to the local
// machine. Encryption keys are derived per call and never persisted.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/lanonasis/memctl-go/internal/faults"
)

const (
	saltSize         = 16
	nonceSize        = 12
	keySize          = 32
	pbkdf2Iterations = 100000

	// defaultPassphrase is deliberately a fixed, non-secret constant. The
	// protection comes from binding the derived key to the machine
	// fingerprint; a user-supplied passphrase only adds on top of that.
	defaultPassphrase = "onasis-local-vault-v1"
)

// EncryptedBlob is the at-rest form of a vendor key. All fields are
// standard base64. The auth tag is kept separate from the ciphertext so
// tampering with either is detectable independently.
type EncryptedBlob struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Salt       string `json:"salt"`
}

// Hash returns the lowercase SHA-256 hex digest of secret. Inputs that are
// already a 64-character hex digest are returned unchanged, so hashing an
// existing hash never double-hashes.
func Hash(secret string) string {
	if len(secret) == 64 && isHex(secret) {
		return secret
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Encrypt seals secret with AES-256-GCM. The key is derived from the machine
// fingerprint concatenated with passphrase (or the default when empty) via
// PBKDF2-SHA256 over a fresh random salt; the nonce is fresh per call, so
// encrypting the same secret twice yields different blobs.
func Encrypt(secret, passphrase string) (*EncryptedBlob, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, nonce, []byte(secret), nil)
	tagStart := len(sealed) - aead.Overhead()

	return &EncryptedBlob{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[tagStart:]),
		Salt:       base64.StdEncoding.EncodeToString(salt),
	}, nil
}

// Decrypt opens blob with the key derived from this machine's fingerprint
// and passphrase. Any authentication failure reports the same decryption
// fault: a corrupted blob, a different machine, and a wrong passphrase are
// indistinguishable here.
func Decrypt(blob *EncryptedBlob, passphrase string) (string, error) {
	if blob == nil {
		return "", faults.New(faults.Decryption, "no encrypted credential present")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return "", faults.Wrap(faults.Decryption, "malformed ciphertext encoding", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return "", faults.Wrap(faults.Decryption, "malformed iv encoding", err)
	}
	tag, err := base64.StdEncoding.DecodeString(blob.AuthTag)
	if err != nil {
		return "", faults.Wrap(faults.Decryption, "malformed auth tag encoding", err)
	}
	salt, err := base64.StdEncoding.DecodeString(blob.Salt)
	if err != nil {
		return "", faults.Wrap(faults.Decryption, "malformed salt encoding", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", faults.New(faults.Decryption, "credential blob failed authentication")
	}

	plaintext, err := aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", faults.New(faults.Decryption, "credential blob failed authentication")
	}
	return string(plaintext), nil
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	if passphrase == "" {
		passphrase = defaultPassphrase
	}
	key := pbkdf2.Key([]byte(Fingerprint()+passphrase), salt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return aead, nil
}
