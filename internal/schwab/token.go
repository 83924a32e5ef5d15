package schwab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// expiryLeeway refreshes the access token slightly before it expires.
const expiryLeeway = 60 * time.Second

// TokenSource hands out OAuth access tokens obtained with a refresh token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// tokenResponse is the body returned by the OAuth token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// RefreshTokenSource exchanges a long-lived refresh token for short-lived
// access tokens and caches the current one until it expires.
type RefreshTokenSource struct {
	client       *resty.Client
	tokenURL     string
	appKey       string
	appSecret    string
	logger       *zap.Logger
	now          func() time.Time
	mu           sync.Mutex
	refreshToken string
	accessToken  string
	expiresAt    time.Time
}

var _ TokenSource = (*RefreshTokenSource)(nil)

// NewRefreshTokenSource creates a token source for the given app credentials.
func NewRefreshTokenSource(tokenURL, appKey, appSecret, refreshToken string, timeout time.Duration, logger *zap.Logger) *RefreshTokenSource {
	return &RefreshTokenSource{
		client:       resty.New().SetTimeout(timeout),
		tokenURL:     tokenURL,
		appKey:       appKey,
		appSecret:    appSecret,
		refreshToken: refreshToken,
		logger:       logger.Named("schwab-oauth"),
		now:          time.Now,
	}
}

// Token returns a valid access token, refreshing it when needed.
func (s *RefreshTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && s.now().Before(s.expiresAt.Add(-expiryLeeway)) {
		return s.accessToken, nil
	}
	if s.refreshToken == "" {
		return "", errors.New("no refresh token configured")
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(s.appKey, s.appSecret).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": s.refreshToken,
		}).
		SetResult(&tokenResponse{}).
		Post(s.tokenURL)
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token refresh failed with status %s: %s", resp.Status(), resp.String())
	}

	result := resp.Result().(*tokenResponse)
	if result.AccessToken == "" {
		return "", errors.New("token endpoint returned an empty access token")
	}

	s.accessToken = result.AccessToken
	s.expiresAt = s.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	if result.RefreshToken != "" {
		s.refreshToken = result.RefreshToken
	}
	s.logger.Debug("Access token refreshed", zap.Time("expires_at", s.expiresAt))
	return s.accessToken, nil
}

// Invalidate drops the cached access token so the next call refreshes it.
func (s *RefreshTokenSource) Invalidate() {
	s.mu.Lock()
	s.accessToken = ""
	s.mu.Unlock()
}

// StaticTokenSource always returns the same token.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(context.Context) (string, error) { return string(s), nil }

// Invalidate implements TokenSource.
func (StaticTokenSource) Invalidate() {}
