package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer is a test OAuth token endpoint that verifies RS256 JWT
// assertions against its own key and issues bearer tokens.
type tokenIssuer struct {
	t      *testing.T
	key    *rsa.PrivateKey
	server *httptest.Server

	mu        sync.Mutex
	exchanges int
}

const issuedAccessToken = "issued-access-token"

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating issuer key: %v", err)
	}
	ti := &tokenIssuer{t: t, key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", ti.handleToken)
	ti.server = httptest.NewServer(mux)
	t.Cleanup(ti.server.Close)
	return ti
}

// KeyPEM returns the issuer's private key in PKCS1 PEM form, for
// constructing the provider under test.
func (ti *tokenIssuer) KeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(ti.key),
	})
}

// TokenEndpoint returns the exchange URL.
func (ti *tokenIssuer) TokenEndpoint() string {
	return ti.server.URL + "/token"
}

// AccessToken returns the bearer token the issuer hands out.
func (ti *tokenIssuer) AccessToken() string {
	return issuedAccessToken
}

// Exchanges returns how many assertion exchanges have completed.
func (ti *tokenIssuer) Exchanges() int {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.exchanges
}

func (ti *tokenIssuer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if got := r.PostFormValue("grant_type"); got != "urn:ietf:params:oauth:grant-type:jwt-bearer" {
		ti.t.Errorf("grant_type = %q, want jwt-bearer", got)
		http.Error(w, "unsupported grant", http.StatusBadRequest)
		return
	}

	assertion := r.PostFormValue("assertion")
	_, err := jwt.Parse(assertion, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return &ti.key.PublicKey, nil
	})
	if err != nil {
		ti.t.Errorf("assertion did not verify: %v", err)
		http.Error(w, "invalid assertion", http.StatusUnauthorized)
		return
	}

	ti.mu.Lock()
	ti.exchanges++
	ti.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"access_token":%q,"expires_in":3600,"token_type":"Bearer"}`, issuedAccessToken)
}
