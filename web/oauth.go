package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	authorizeURL = "https://discord.com/oauth2/authorize"
	tokenURL     = "https://discord.com/api/oauth2/token"
	identityURL  = "https://discord.com/api/users/@me"
)

// discordUser - The slice of /users/@me the callback needs.
type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

func oauthConfig(clientID, clientSecret, baseURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{"identify"},
		RedirectURL:  baseURL + "/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   authorizeURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// fetchIdentity - Exchange the authorization code and read the platform
// account the member just proved they control.
func fetchIdentity(ctx context.Context, conf *oauth2.Config, code string) (discordUser, error) {
	var user discordUser
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return user, fmt.Errorf("token exchange: %w", err)
	}
	resp, err := conf.Client(ctx, token).Get(identityURL)
	if err != nil {
		return user, fmt.Errorf("fetch identity: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return user, fmt.Errorf("fetch identity: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return user, fmt.Errorf("decode identity: %w", err)
	}
	if user.ID == "" {
		return user, fmt.Errorf("identity response missing id")
	}
	return user, nil
}
