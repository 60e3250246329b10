// Package oauth maps third-party OAuth2 identities onto local accounts.
package oauth

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnsupportedProvider is returned for registration ids with no mapper.
var ErrUnsupportedProvider = errors.New("oauth: unsupported provider")

// ErrMissingID is returned when the provider response carries no subject.
var ErrMissingID = errors.New("oauth: provider returned no user id")

// UserInfo is the provider-neutral view of a user-info response.
type UserInfo interface {
	Provider() string
	ID() string
	Email() string
	Name() string
	FirstName() string
	LastName() string
	AvatarURL() string
}

// NewUserInfo maps attrs for registrationID ("google" or "github").
func NewUserInfo(registrationID string, attrs map[string]any) (UserInfo, error) {
	var info UserInfo
	switch strings.ToLower(registrationID) {
	case "google":
		info = googleUser{attrs}
	case "github":
		info = githubUser{attrs}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, registrationID)
	}
	if info.ID() == "" {
		return nil, ErrMissingID
	}
	return info, nil
}

type attributes map[string]any

func (a attributes) str(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

type googleUser struct{ attrs attributes }

func (g googleUser) Provider() string  { return "google" }
func (g googleUser) ID() string        { return g.attrs.str("sub") }
func (g googleUser) Email() string     { return g.attrs.str("email") }
func (g googleUser) Name() string      { return g.attrs.str("name") }
func (g googleUser) FirstName() string { return g.attrs.str("given_name") }
func (g googleUser) LastName() string  { return g.attrs.str("family_name") }
func (g googleUser) AvatarURL() string { return g.attrs.str("picture") }

type githubUser struct{ attrs attributes }

func (g githubUser) Provider() string { return "github" }

// ID is GitHub's numeric account id, which JSON decodes as float64.
func (g githubUser) ID() string { return g.attrs.str("id") }

// Email falls back to a placeholder under github.local when the user keeps
// their address private.
func (g githubUser) Email() string {
	if email := g.attrs.str("email"); email != "" {
		return email
	}
	if login := g.attrs.str("login"); login != "" {
		return login + "@github.local"
	}
	return ""
}

func (g githubUser) Name() string {
	if name := g.attrs.str("name"); name != "" {
		return name
	}
	return g.attrs.str("login")
}

func (g githubUser) FirstName() string {
	first, _, _ := strings.Cut(g.Name(), " ")
	return first
}

func (g githubUser) LastName() string {
	parts := strings.Fields(g.Name())
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-1]
}

func (g githubUser) AvatarURL() string { return g.attrs.str("avatar_url") }
