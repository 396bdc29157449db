// Package auth supplies opaque, refreshable credentials for outbound
// calls. The call engine attaches whatever a Provider hands back and
// never inspects or persists it.
package auth

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is an opaque bearer token with its expiry.
type Credential struct {
	Token  string
	Expiry time.Time
}

// Valid reports whether the credential is still usable, with headroom for
// in-flight retries.
func (c Credential) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	if c.Expiry.IsZero() {
		return true
	}
	return now.Add(time.Minute).Before(c.Expiry)
}

// Provider obtains a credential for the given auth context ("user",
// "service", ...). Implementations must be safe for concurrent use.
type Provider interface {
	Credential(ctx context.Context, authContext string) (Credential, error)

	// Fingerprint is a stable digest of the provider's identity, used in
	// cache keys so a credential rotation is not served stale documents.
	Fingerprint() string
}

// StaticProvider returns a fixed token for every auth context. Useful for
// API-key style access and in tests.
type StaticProvider struct {
	Token string
}

// Credential implements Provider.
func (p *StaticProvider) Credential(_ context.Context, _ string) (Credential, error) {
	return Credential{Token: p.Token}, nil
}

// Fingerprint implements Provider.
func (p *StaticProvider) Fingerprint() string {
	return digest(p.Token)
}

// ServiceAccountProvider exchanges a signed JWT assertion for an access
// token at the issuer's token endpoint, caching the token until expiry.
type ServiceAccountProvider struct {
	Email         string
	Scopes        []string
	TokenEndpoint string
	Audience      string

	key    *rsa.PrivateKey
	client *http.Client

	mu     sync.Mutex
	cached Credential
}

// NewServiceAccountProvider parses a PEM-encoded RSA private key and
// builds a provider for the given service account.
func NewServiceAccountProvider(email string, keyPEM []byte, scopes []string, tokenEndpoint string) (*ServiceAccountProvider, error) {
	key, err := parseRSAKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing service account key: %w", err)
	}
	if tokenEndpoint == "" {
		tokenEndpoint = "https://oauth2.googleapis.com/token"
	}
	return &ServiceAccountProvider{
		Email:         email,
		Scopes:        scopes,
		TokenEndpoint: tokenEndpoint,
		Audience:      tokenEndpoint,
		key:           key,
		client:        &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Credential implements Provider, refreshing the cached token when it is
// missing or within a minute of expiry.
func (p *ServiceAccountProvider) Credential(ctx context.Context, _ string) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.cached.Valid(now) {
		return p.cached, nil
	}

	assertion, err := p.signAssertion(now)
	if err != nil {
		return Credential{}, err
	}
	cred, err := p.exchange(ctx, assertion)
	if err != nil {
		return Credential{}, err
	}
	p.cached = cred
	return cred, nil
}

// Fingerprint implements Provider.
func (p *ServiceAccountProvider) Fingerprint() string {
	return digest(p.Email + "|" + strings.Join(p.Scopes, " "))
}

// signAssertion builds the RS256 JWT the token endpoint expects.
func (p *ServiceAccountProvider) signAssertion(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":   p.Email,
		"scope": strings.Join(p.Scopes, " "),
		"aud":   p.Audience,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("auth: signing assertion: %w", err)
	}
	return signed, nil
}

// exchange trades the assertion for an access token.
func (p *ServiceAccountProvider) exchange(ctx context.Context, assertion string) (Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, fmt.Errorf("auth: building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("auth: token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, fmt.Errorf("auth: reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("auth: token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Credential{}, fmt.Errorf("auth: decoding token response: %w", err)
	}
	if payload.AccessToken == "" {
		return Credential{}, fmt.Errorf("auth: token endpoint returned no access token")
	}

	return Credential{
		Token:  payload.AccessToken,
		Expiry: time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

func parseRSAKey(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is %T, want *rsa.PrivateKey", parsed)
	}
	return key, nil
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
