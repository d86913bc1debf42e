package security

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrInvalidToken   = errors.New("jwt: invalid token")
	ErrTokenExpired   = errors.New("jwt: token expired")
	ErrWrongTokenType = errors.New("jwt: unexpected token type")
	ErrKeyIDMissing   = errors.New("jwt: missing key identifier")
)

// TokenClaims are carried by both access and refresh tokens. SessionID on an
// access token is the JTI of the refresh token it was minted with.
type TokenClaims struct {
	TokenType string `json:"token_type"`
	UserID    string `json:"uid"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	Access           string
	Refresh          string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	RefreshJTI       string
}

// JWTManager signs RS256 tokens with a kid header and verifies them by kid.
type JWTManager struct {
	keys       KeyProvider
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// JWTOption customises a JWTManager.
type JWTOption func(*JWTManager)

// WithJWTClock overrides the clock used for issuing and validating tokens.
func WithJWTClock(now func() time.Time) JWTOption {
	return func(m *JWTManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewJWTManager constructs a manager for the supplied key provider.
func NewJWTManager(keys KeyProvider, issuer string, accessTTL, refreshTTL time.Duration, opts ...JWTOption) *JWTManager {
	m := &JWTManager{
		keys:       keys,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RefreshTTL is the lifetime of refresh tokens.
func (m *JWTManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// IssuePair mints a refresh token and an access token bound to it.
func (m *JWTManager) IssuePair(userID string) (TokenPair, error) {
	now := m.now().UTC()
	refreshJTI := uuid.NewString()

	refresh, refreshExp, err := m.sign(TokenClaims{
		TokenType: TokenTypeRefresh,
		UserID:    userID,
	}, refreshJTI, now, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	access, accessExp, err := m.IssueAccess(userID, refreshJTI)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		RefreshJTI:       refreshJTI,
	}, nil
}

// IssueAccess mints a short-lived access token for the session.
func (m *JWTManager) IssueAccess(userID, sessionID string) (string, time.Time, error) {
	return m.sign(TokenClaims{
		TokenType: TokenTypeAccess,
		UserID:    userID,
		SessionID: sessionID,
	}, uuid.NewString(), m.now().UTC(), m.accessTTL)
}

func (m *JWTManager) sign(claims TokenClaims, jti string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(claims.UserID) == "" {
		return "", time.Time{}, errors.New("jwt: user id is required")
	}

	kid, key, err := m.keys.SigningKey()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: get signing key: %w", err)
	}
	if kid == "" {
		return "", time.Time{}, ErrKeyIDMissing
	}

	expiresAt := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        jti,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken verifies signature, issuer, expiry and token type.
func (m *JWTManager) ParseToken(raw, expectedType string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, ErrKeyIDMissing
		}
		return m.keys.VerificationKey(kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.TokenType != expectedType {
		return nil, ErrWrongTokenType
	}
	if claims.ID == "" || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// JWKS renders the public keys as a JSON Web Key Set.
func (m *JWTManager) JWKS() ([]byte, error) {
	keys := m.keys.VerificationKeys()
	kids := make([]string, 0, len(keys))
	for kid := range keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	set := struct {
		Keys []map[string]string `json:"keys"`
	}{Keys: make([]map[string]string, 0, len(kids))}

	for _, kid := range kids {
		if key := keys[kid]; key != nil {
			set.Keys = append(set.Keys, rsaJWK(kid, key))
		}
	}
	return json.Marshal(set)
}

func rsaJWK(kid string, key *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
