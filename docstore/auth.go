package docstore

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	defaultTokenURI    = "https://oauth2.googleapis.com/token"
	assertionLifetime  = time.Hour
	expiryLeeway       = 30 * time.Second
)

// DefaultScopes are requested when a service account is used without explicit scopes.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/firebase.database",
	"https://www.googleapis.com/auth/userinfo.email",
}

// TokenSource supplies the query parameter that authenticates a request against the backend.
type TokenSource interface {
	// Token returns the query parameter name and its value.
	Token(ctx context.Context) (param string, value string, err error)
}

// SecretAuth authenticates with a legacy database secret.
type SecretAuth struct {
	Secret string
}

func (a SecretAuth) Token(context.Context) (string, string, error) {
	if a.Secret == "" {
		return "", "", errors.New("database secret is empty")
	}

	return "auth", a.Secret, nil
}

// ServiceAccount holds the fields of a Google service account key file that are needed to mint tokens.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// LoadServiceAccount reads and decodes a service account key file.
func LoadServiceAccount(path string) (*ServiceAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account file: %w", err)
	}

	account := &ServiceAccount{}
	if err = json.Unmarshal(data, account); err != nil {
		return nil, fmt.Errorf("failed to decode service account file: %w", err)
	}

	if account.ClientEmail == "" || account.PrivateKey == "" {
		return nil, errors.New("service account file lacks client_email or private_key")
	}

	if account.TokenURI == "" {
		account.TokenURI = defaultTokenURI
	}

	return account, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ServiceAccountAuth exchanges a signed JWT assertion for an OAuth2 access token and caches it until shortly
// before it expires.
type ServiceAccountAuth struct {
	account    *ServiceAccount
	key        *rsa.PrivateKey
	scopes     []string
	httpClient *http.Client
	now        func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewServiceAccountAuth parses the account's private key and prepares a token source.
func NewServiceAccountAuth(account *ServiceAccount, scopes []string, httpClient *http.Client) (*ServiceAccountAuth, error) {
	if account == nil {
		return nil, errors.New("service account is nil")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &ServiceAccountAuth{
		account:    account,
		key:        key,
		scopes:     scopes,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// Token returns a cached access token or fetches a fresh one.
func (a *ServiceAccountAuth) Token(ctx context.Context) (string, string, error) {
	a.mu.RLock()
	token, expiresAt := a.token, a.expiresAt
	a.mu.RUnlock()

	if token != "" && a.now().Before(expiresAt.Add(-expiryLeeway)) {
		return "access_token", token, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Another goroutine may have refreshed the token while we waited for the lock
	if a.token != "" && a.now().Before(a.expiresAt.Add(-expiryLeeway)) {
		return "access_token", a.token, nil
	}

	resp, err := a.fetchToken(ctx)
	if err != nil {
		return "", "", err
	}

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	a.token = resp.AccessToken
	a.expiresAt = a.now().Add(time.Duration(expiresIn) * time.Second)

	return "access_token", a.token, nil
}

func (a *ServiceAccountAuth) createAssertion() (string, error) {
	now := a.now()

	claims := jwt.MapClaims{
		"iss":   a.account.ClientEmail,
		"scope": strings.Join(a.scopes, " "),
		"aud":   a.account.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if a.account.PrivateKeyID != "" {
		token.Header["kid"] = a.account.PrivateKeyID
	}

	return token.SignedString(a.key)
}

func (a *ServiceAccountAuth) fetchToken(ctx context.Context) (*tokenResponse, error) {
	assertion, err := a.createAssertion()
	if err != nil {
		return nil, fmt.Errorf("failed to create assertion: %w", err)
	}

	data := url.Values{}
	data.Set("grant_type", jwtBearerGrantType)
	data.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.account.TokenURI, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request returned status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err = json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	if tr.AccessToken == "" {
		return nil, errors.New("token response carries no access_token")
	}

	return &tr, nil
}

var (
	_ TokenSource = SecretAuth{}
	_ TokenSource = (*ServiceAccountAuth)(nil)
)
