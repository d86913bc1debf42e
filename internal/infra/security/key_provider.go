package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrKeyNotFound   = errors.New("key not found")
	ErrNoSigningKey  = errors.New("no private key found for signing")
	errKeyDirMissing = errors.New("jwt key directory is required in production")
)

// KeyProvider supplies the RSA signing key and the public keys accepted for verification.
type KeyProvider interface {
	SigningKey() (kid string, key *rsa.PrivateKey, err error)
	VerificationKey(kid string) (*rsa.PublicKey, error)
	VerificationKeys() map[string]*rsa.PublicKey
}

// DirectoryKeyProvider loads PEM encoded RSA keys from a directory. The file name
// without extension is the kid. Private keys sign; public-only files let retired
// keys keep verifying until the tokens they signed expire.
type DirectoryKeyProvider struct {
	signingKID string
	signingKey *rsa.PrivateKey
	public     map[string]*rsa.PublicKey
}

// NewDirectoryKeyProvider reads every key in dir. When preferredKID is set, that
// private key signs; otherwise the lexically first private key does.
func NewDirectoryKeyProvider(dir, preferredKID string) (*DirectoryKeyProvider, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}

	provider := &DirectoryKeyProvider{public: make(map[string]*rsa.PublicKey)}
	private := make(map[string]*rsa.PrivateKey)

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file %s: %w", path, err)
		}

		kid := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		priv, pub, err := parseRSAPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", path, err)
		}
		if priv != nil {
			private[kid] = priv
			pub = &priv.PublicKey
		}
		provider.public[kid] = pub
	}

	if len(private) == 0 {
		return nil, ErrNoSigningKey
	}

	kid := strings.TrimSpace(preferredKID)
	if kid == "" {
		kids := make([]string, 0, len(private))
		for k := range private {
			kids = append(kids, k)
		}
		sort.Strings(kids)
		kid = kids[0]
	}

	key, ok := private[kid]
	if !ok {
		return nil, fmt.Errorf("%w: signing kid %s", ErrKeyNotFound, kid)
	}
	provider.signingKID = kid
	provider.signingKey = key

	return provider, nil
}

func parseRSAPEM(data []byte) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, nil, errors.New("no PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil, nil
		}
		return nil, nil, errors.New("PKCS#8 key is not RSA")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return nil, key, nil
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return nil, rsaKey, nil
		}
		return nil, nil, errors.New("PKIX key is not RSA")
	}
	return nil, nil, errors.New("unsupported key encoding")
}

func (p *DirectoryKeyProvider) SigningKey() (string, *rsa.PrivateKey, error) {
	return p.signingKID, p.signingKey, nil
}

func (p *DirectoryKeyProvider) VerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.public[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

func (p *DirectoryKeyProvider) VerificationKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(p.public))
	for kid, key := range p.public {
		out[kid] = key
	}
	return out
}

// EphemeralKeyProvider holds a key generated at startup. Tokens die with the process.
type EphemeralKeyProvider struct {
	kid string
	key *rsa.PrivateKey
}

// NewEphemeralKeyProvider generates an RSA key of the given size.
func NewEphemeralKeyProvider(bits int) (*EphemeralKeyProvider, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &EphemeralKeyProvider{kid: "ephemeral-" + uuid.NewString()[:8], key: key}, nil
}

func (p *EphemeralKeyProvider) SigningKey() (string, *rsa.PrivateKey, error) {
	return p.kid, p.key, nil
}

func (p *EphemeralKeyProvider) VerificationKey(kid string) (*rsa.PublicKey, error) {
	if kid != p.kid {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return &p.key.PublicKey, nil
}

func (p *EphemeralKeyProvider) VerificationKeys() map[string]*rsa.PublicKey {
	return map[string]*rsa.PublicKey{p.kid: &p.key.PublicKey}
}

// NewKeyProvider loads keys from keyDir, falling back to an ephemeral key outside production.
func NewKeyProvider(env, keyDir, keyID string) (KeyProvider, error) {
	if strings.TrimSpace(keyDir) != "" {
		return NewDirectoryKeyProvider(keyDir, keyID)
	}
	if env == "production" {
		return nil, errKeyDirMissing
	}
	return NewEphemeralKeyProvider(2048)
}
