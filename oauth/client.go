package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ProviderConfig configures one registration.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Endpoint and UserInfoURL default per registration id when empty.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

type provider struct {
	oauth2Config *oauth2.Config
	userInfoURL  string
}

// Client runs the authorization code flow against the configured providers.
type Client struct {
	providers map[string]provider
}

var defaults = map[string]struct {
	endpoint    oauth2.Endpoint
	userInfoURL string
	scopes      []string
}{
	"google": {endpoints.Google, "https://openidconnect.googleapis.com/v1/userinfo", []string{"openid", "email", "profile"}},
	"github": {endpoints.GitHub, "https://api.github.com/user", []string{"read:user", "user:email"}},
}

// NewClient builds a Client from registrations keyed by id.
func NewClient(configs map[string]ProviderConfig) (*Client, error) {
	c := &Client{providers: make(map[string]provider, len(configs))}
	for id, cfg := range configs {
		id = strings.ToLower(id)
		def, known := defaults[id]
		if !known {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, id)
		}
		if cfg.ClientID == "" {
			return nil, fmt.Errorf("oauth: %s client id is required", id)
		}
		endpoint := cfg.Endpoint
		if endpoint.AuthURL == "" {
			endpoint = def.endpoint
		}
		userInfoURL := cfg.UserInfoURL
		if userInfoURL == "" {
			userInfoURL = def.userInfoURL
		}
		scopes := cfg.Scopes
		if len(scopes) == 0 {
			scopes = def.scopes
		}
		c.providers[id] = provider{
			oauth2Config: &oauth2.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				Endpoint:     endpoint,
				RedirectURL:  cfg.RedirectURL,
				Scopes:       scopes,
			},
			userInfoURL: userInfoURL,
		}
	}
	return c, nil
}

// Providers lists the configured registration ids.
func (c *Client) Providers() []string {
	out := make([]string, 0, len(c.providers))
	for id := range c.providers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Client) lookup(id string) (provider, error) {
	p, ok := c.providers[strings.ToLower(id)]
	if !ok {
		return provider{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, id)
	}
	return p, nil
}

// AuthCodeURL returns the provider consent URL carrying state.
func (c *Client) AuthCodeURL(providerID, state string) (string, error) {
	p, err := c.lookup(providerID)
	if err != nil {
		return "", err
	}
	return p.oauth2Config.AuthCodeURL(state), nil
}

// Authenticate exchanges code and fetches the user-info document.
func (c *Client) Authenticate(ctx context.Context, providerID, code string) (UserInfo, error) {
	p, err := c.lookup(providerID)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("oauth: missing authorization code")
	}

	tok, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth: exchange code: %w", err)
	}

	resp, err := p.oauth2Config.Client(ctx, tok).Get(p.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("oauth: fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("oauth: user info status %d: %s", resp.StatusCode, string(body))
	}

	var attrs map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&attrs); err != nil {
		return nil, fmt.Errorf("oauth: decode user info: %w", err)
	}
	return NewUserInfo(providerID, attrs)
}
