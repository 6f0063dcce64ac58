package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nordkyn/authcore/internal/config"
)

// Client talks to the federated identity provider. The provider is an
// OIDC peer that additionally requires an API subscription key and a
// merchant serial number on token and userinfo calls.
type Client struct {
	config     *config.VippsConfig
	discovery  *OIDCDiscovery
	httpClient *http.Client
}

// OIDCDiscovery holds provider metadata from .well-known/openid-configuration
type OIDCDiscovery struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// UserInfo holds the remote user profile. Email may be empty; callers
// that require an email-bearing identity must check it themselves.
type UserInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	PhoneNumber   string `json:"phone_number"`
}

// NewClient creates a provider client and performs OIDC discovery
func NewClient(cfg *config.VippsConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, fmt.Errorf("federated login is not enabled")
	}

	client := &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}

	if err := client.discover(); err != nil {
		return nil, fmt.Errorf("OIDC discovery failed: %w", err)
	}

	return client, nil
}

// discover fetches the provider's endpoint metadata
func (c *Client) discover() error {
	discoveryURL := strings.TrimSuffix(c.config.Issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequest(http.MethodGet, discoveryURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create discovery request: %w", err)
	}
	c.setProviderHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discovery endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var discovery OIDCDiscovery
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		return fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if discovery.AuthorizationEndpoint == "" || discovery.TokenEndpoint == "" || discovery.UserinfoEndpoint == "" {
		return fmt.Errorf("discovery document missing required endpoints")
	}

	c.discovery = &discovery
	return nil
}

// GetAuthorizationURL returns the authorization URL with PKCE parameters
func (c *Client) GetAuthorizationURL(state, codeChallenge, redirectURL string) string {
	params := url.Values{}
	params.Set("client_id", c.config.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURL)
	params.Set("scope", strings.Join(c.config.Scopes, " "))
	params.Set("state", state)
	params.Set("code_challenge", codeChallenge)
	params.Set("code_challenge_method", "S256")

	return c.discovery.AuthorizationEndpoint + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for an access token,
// passing the recovered PKCE verifier and the exact redirect URL the
// authorization request declared.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURL string) (string, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURL)
	data.Set("client_id", c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)
	data.Set("code_verifier", codeVerifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.discovery.TokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.setProviderHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		IDToken     string `json:"id_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	if result.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	return result.AccessToken, nil
}

// GetUserInfo fetches the remote user profile with the access token
func (c *Client) GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.discovery.UserinfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	c.setProviderHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("userinfo request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var userInfo UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}

	if userInfo.Subject == "" {
		return nil, fmt.Errorf("userinfo response missing sub claim")
	}

	return &userInfo, nil
}

// setProviderHeaders attaches the API management headers the provider
// requires on every call
func (c *Client) setProviderHeaders(req *http.Request) {
	if c.config.SubscriptionKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.config.SubscriptionKey)
	}
	if c.config.MerchantSerial != "" {
		req.Header.Set("Merchant-Serial-Number", c.config.MerchantSerial)
	}
}
