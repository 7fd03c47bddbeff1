package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/httpclient"
)

// Endpoint is the Instagram Login OAuth2 endpoint pair.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://api.instagram.com/oauth/authorize",
	TokenURL: "https://api.instagram.com/oauth/access_token",
}

// Scopes required for reading and replying to comments.
var defaultScopes = []string{
	"instagram_business_basic",
	"instagram_business_manage_comments",
}

// TokenManager drives the Instagram token lifecycle: authorization-code
// exchange for a short-lived token, upgrade to a long-lived one, and periodic
// refresh before the 60-day expiry.
type TokenManager struct {
	oauth        *oauth2.Config
	clientSecret string

	// graphBaseURL hosts the exchange/refresh endpoints (unversioned).
	graphBaseURL string
	httpClient   *http.Client
	logger       arbor.ILogger
}

func NewTokenManager(config *common.Config, logger arbor.ILogger) (*TokenManager, error) {
	if config.Instagram.ClientID == "" || config.Instagram.ClientSecret == "" {
		return nil, fmt.Errorf("instagram client id and secret are required")
	}

	return &TokenManager{
		oauth: &oauth2.Config{
			ClientID:     config.Instagram.ClientID,
			ClientSecret: config.Instagram.ClientSecret,
			RedirectURL:  config.Instagram.RedirectURI,
			Scopes:       defaultScopes,
			Endpoint:     Endpoint,
		},
		clientSecret: config.Instagram.ClientSecret,
		graphBaseURL: "https://graph.instagram.com",
		httpClient:   httpclient.NewDefaultHTTPClient(requestTimeout),
		logger:       logger,
	}, nil
}

// AuthorizeURL builds the user consent URL for the given CSRF state.
func (m *TokenManager) AuthorizeURL(state string) string {
	return m.oauth.AuthCodeURL(state)
}

// ExchangeCode swaps an authorization code for a short-lived token (~1h).
func (m *TokenManager) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	m.logger.Info().Msg("Authorization code exchanged for short-lived token")
	return token, nil
}

// ExchangeLongLived upgrades a short-lived token to a long-lived one
// (~60 days).
func (m *TokenManager) ExchangeLongLived(ctx context.Context, shortLived string) (*oauth2.Token, error) {
	params := url.Values{}
	params.Set("grant_type", "ig_exchange_token")
	params.Set("client_secret", m.clientSecret)
	params.Set("access_token", shortLived)

	token, err := m.fetchToken(ctx, m.graphBaseURL+"/access_token", params)
	if err != nil {
		return nil, fmt.Errorf("exchanging for long-lived token: %w", err)
	}
	m.logger.Info().Str("expiry", token.Expiry.Format(time.RFC3339)).Msg("Long-lived token issued")
	return token, nil
}

// Refresh extends an unexpired long-lived token for another 60 days. Expired
// tokens cannot be refreshed; re-authorization is required.
func (m *TokenManager) Refresh(ctx context.Context, longLived string) (*oauth2.Token, error) {
	params := url.Values{}
	params.Set("grant_type", "ig_refresh_token")
	params.Set("access_token", longLived)

	token, err := m.fetchToken(ctx, m.graphBaseURL+"/refresh_access_token", params)
	if err != nil {
		return nil, fmt.Errorf("refreshing long-lived token: %w", err)
	}
	m.logger.Info().Str("expiry", token.Expiry.Format(time.RFC3339)).Msg("Long-lived token refreshed")
	return token, nil
}

func (m *TokenManager) fetchToken(ctx context.Context, endpoint string, params url.Values) (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		Error       *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || raw.AccessToken == "" {
		if raw.Error != nil {
			return nil, fmt.Errorf("status %d: %s (code %d)", resp.StatusCode, raw.Error.Message, raw.Error.Code)
		}
		return nil, fmt.Errorf("status %d: no access token in response", resp.StatusCode)
	}

	token := &oauth2.Token{
		AccessToken: raw.AccessToken,
		TokenType:   raw.TokenType,
	}
	if raw.ExpiresIn > 0 {
		token.Expiry = time.Now().UTC().Add(time.Duration(raw.ExpiresIn) * time.Second)
	}
	return token, nil
}
