// Package auth loads the end-user credential the CLI obtained at login and
// keeps it fresh. Refreshes are deduplicated: concurrent callers that find
// the token expired share a single refresh round trip.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// EnvToken bypasses the credentials file entirely when set.
const EnvToken = "MYNDHYVE_TOKEN"

var (
	// ErrNotAuthenticated means no stored credentials exist.
	ErrNotAuthenticated = errors.New("not authenticated, run login first")

	// ErrRefreshFailed means the stored refresh token was rejected.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// Credentials is the persisted shape of credentials.json.
type Credentials struct {
	IDToken      string    `json:"idToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the ID token is past its lifetime. When the file
// carries no expiry, the JWT's own exp claim decides; tokens we cannot
// inspect are treated as expired.
func (c *Credentials) Expired(now time.Time) bool {
	if c.IDToken == "" {
		return true
	}
	if !c.ExpiresAt.IsZero() {
		return !now.Before(c.ExpiresAt)
	}
	exp, err := jwtExpiry(c.IDToken)
	if err != nil {
		return true
	}
	return !now.Before(exp)
}

// jwtExpiry extracts the exp claim without verifying the signature. The
// agent only needs the timestamp; the cloud verifies authenticity.
func jwtExpiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing id token: %w", err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("id token has no exp claim")
	}
	return exp.Time, nil
}

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Status classifies the stored authentication state for diagnostics.
type Status string

const (
	StatusEnvToken Status = "env-token"
	StatusValid    Status = "valid"
	StatusExpired  Status = "expired"
	StatusNone     Status = "none"
)

// Store reads, refreshes, and persists the user credential.
type Store struct {
	path       string
	refreshURL string
	httpClient HTTPClient
	logger     zerolog.Logger
	group      singleflight.Group
}

func NewStore(path, refreshURL string, logger zerolog.Logger) *Store {
	return &Store{
		path:       path,
		refreshURL: refreshURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With().Str("component", "auth").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (s *Store) SetHTTPClient(hc HTTPClient) { s.httpClient = hc }

// Load reads credentials.json. A missing file is ErrNotAuthenticated.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if creds.IDToken == "" {
		return nil, ErrNotAuthenticated
	}
	return &creds, nil
}

// Status reports the stored authentication state without side effects.
func (s *Store) Status() Status {
	if os.Getenv(EnvToken) != "" {
		return StatusEnvToken
	}
	creds, err := s.Load()
	if err != nil {
		return StatusNone
	}
	if creds.Expired(time.Now()) {
		return StatusExpired
	}
	return StatusValid
}

// Token returns a live ID token, refreshing the stored credential when it
// has expired. Concurrent expiry discoveries share one refresh; the slot
// clears on completion so a failed refresh can be retried.
func (s *Store) Token(ctx context.Context) (string, error) {
	if tok := os.Getenv(EnvToken); tok != "" {
		return tok, nil
	}

	creds, err := s.Load()
	if err != nil {
		return "", err
	}
	if !creds.Expired(time.Now()) {
		return creds.IDToken, nil
	}
	if creds.RefreshToken == "" {
		return "", fmt.Errorf("%w: token expired and no refresh token stored", ErrNotAuthenticated)
	}

	v, err, _ := s.group.Do("refresh", func() (interface{}, error) {
		return s.refresh(ctx, creds.RefreshToken)
	})
	if err != nil {
		return "", err
	}
	return v.(*Credentials).IDToken, nil
}

// refresh exchanges the refresh token and persists the new credential.
func (s *Store) refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	s.logger.Debug().Msg("Refreshing user token")

	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encoding refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}

	var body struct {
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int    `json:"expiresIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrRefreshFailed, err)
	}
	if body.IDToken == "" {
		return nil, fmt.Errorf("%w: response missing idToken", ErrRefreshFailed)
	}

	creds := &Credentials{
		IDToken:      body.IDToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second).UTC(),
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = refreshToken
	}
	if err := s.save(creds); err != nil {
		s.logger.Warn().Err(err).Msg("Could not persist refreshed credentials")
	}
	return creds, nil
}

func (s *Store) save(creds *Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
