package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/wolfeidau/psadmin/internal/models"
	"golang.org/x/oauth2"
)

// ErrMalformedAuthResponse is returned when an auth endpoint answers 2xx
// without the expected user or token.
var ErrMalformedAuthResponse = errors.New("malformed auth response")

// AuthService calls the /auth endpoints. The bearer token is passed
// explicitly because these calls happen while the session is being built.
type AuthService struct {
	client *Client
}

// Login calls POST /auth/login.
func (s *AuthService) Login(ctx context.Context, creds models.Credentials) (*models.AuthResult, error) {
	return s.authenticate(ctx, "/auth/login", creds)
}

// Register calls POST /auth/register.
func (s *AuthService) Register(ctx context.Context, reg models.Registration) (*models.AuthResult, error) {
	return s.authenticate(ctx, "/auth/register", reg)
}

func (s *AuthService) authenticate(ctx context.Context, path string, body any) (*models.AuthResult, error) {
	req, err := s.client.newRequest(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return nil, err
	}

	var result models.AuthResult
	if err := s.client.do(s.client.httpClient(nil), req, &result, true); err != nil {
		return nil, err
	}

	if result.User == nil || result.Token == "" {
		return nil, ErrMalformedAuthResponse
	}

	return &result, nil
}

// Me calls GET /auth/me with the given token and returns the current user.
func (s *AuthService) Me(ctx context.Context, token string) (*models.User, error) {
	req, err := s.client.newRequest(ctx, http.MethodGet, "/auth/me", nil, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		User *models.User `json:"user"`
	}
	if err := s.client.do(s.bearer(token), req, &result, true); err != nil {
		return nil, err
	}

	if result.User == nil {
		return nil, ErrMalformedAuthResponse
	}

	return result.User, nil
}

// Logout calls POST /auth/logout with the given token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	req, err := s.client.newRequest(ctx, http.MethodPost, "/auth/logout", nil, nil)
	if err != nil {
		return err
	}
	return s.client.do(s.bearer(token), req, nil, false)
}

func (s *AuthService) bearer(token string) *http.Client {
	return s.client.httpClient(&oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
		Base:   s.client.transport,
	})
}
