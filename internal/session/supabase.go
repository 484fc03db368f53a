package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/supabase-go"
)

// Supabase authenticates against a Supabase project.
type Supabase struct {
	client *supabase.Client
}

// NewSupabase returns an authenticator for the project at url.
func NewSupabase(url, key string) (*Supabase, error) {
	if url == "" || key == "" {
		return nil, errors.New("supabase url and key are required")
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating supabase client")
	}
	return &Supabase{client: client}, nil
}

// SignIn implements Authenticator.
func (s *Supabase) SignIn(_ context.Context, email, password string) (*Session, error) {
	response, err := s.client.Auth.Token(types.TokenRequest{
		GrantType: "password",
		Email:     email,
		Password:  password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "requesting password grant")
	}
	return fromSupabase(&response.Session), nil
}

// Refresh implements Authenticator.
func (s *Supabase) Refresh(_ context.Context, refreshToken string) (*Session, error) {
	response, err := s.client.Auth.Token(types.TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, errors.Wrap(err, "requesting refresh grant")
	}
	return fromSupabase(&response.Session), nil
}

// SignOut implements Authenticator.
func (s *Supabase) SignOut(_ context.Context, accessToken string) error {
	return s.client.Auth.WithToken(accessToken).Logout()
}

func fromSupabase(session *types.Session) *Session {
	out := &Session{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		Email:        session.User.Email,
		Name:         metadataName(session.User.UserMetadata),
	}
	if session.User.ID != uuid.Nil {
		out.UserID = session.User.ID.String()
	}
	if session.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0)
	}
	return out
}

func metadataName(metadata map[string]interface{}) string {
	for _, key := range []string{"name", "full_name"} {
		if name, ok := metadata[key].(string); ok && name != "" {
			return name
		}
	}
	return ""
}
