package web

import (
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/ksg-dk/gatekeeper/access"
	"github.com/ksg-dk/gatekeeper/verification"
)

// Config - Web server settings, filled from process config.
type Config struct {
	ListenAddr   string
	BaseURL      string
	ClientID     string
	ClientSecret string
	StateSecret  string
	StateTTL     time.Duration
}

// Server - The OAuth verification transport. It turns a visited
// verification link into an authorize redirect, and the OAuth callback
// into an identity claim handed to the engine.
type Server struct {
	engine *access.Engine
	oauth  *oauth2.Config
	secret []byte
	ttl    time.Duration
	addr   string
}

// NewServer - Build the gin handler around the engine.
func NewServer(cfg Config, engine *access.Engine) *Server {
	ttl := cfg.StateTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &Server{
		engine: engine,
		oauth:  oauthConfig(cfg.ClientID, cfg.ClientSecret, cfg.BaseURL),
		secret: []byte(cfg.StateSecret),
		ttl:    ttl,
		addr:   cfg.ListenAddr,
	}
}

// Router - The route table: health, verification entry, OAuth callback.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/verify/:id", s.verifyEntry)
	r.GET("/callback", s.callback)
	return r
}

// verifyEntry - The link members receive. The path id is their external
// verification ID; it rides to the callback inside the signed state.
func (s *Server) verifyEntry(c *gin.Context) {
	externalID := c.Param("id")
	if _, err := uuid.Parse(externalID); err != nil {
		c.Data(http.StatusBadRequest, "text/html; charset=utf-8", page("Invalid link", "That verification link is not valid. Check the link you were sent."))
		return
	}
	state, err := signState(s.secret, externalID, c.Query("season"), s.ttl)
	if err != nil {
		log.Error().Err(err).Msg("failed to sign state token")
		c.Data(http.StatusInternalServerError, "text/html; charset=utf-8", page("Something went wrong", "Please try again in a moment."))
		return
	}
	c.Redirect(http.StatusFound, s.oauth.AuthCodeURL(state))
}

// callback - Discord redirects here after the member authorizes. Verify
// the state, exchange the code, then feed the claim to the engine.
func (s *Server) callback(c *gin.Context) {
	code := c.Query("code")
	rawState := c.Query("state")
	if code == "" || rawState == "" {
		c.Data(http.StatusBadRequest, "text/html; charset=utf-8", page("Missing parameters", "The authorization response was incomplete. Start over from your verification link."))
		return
	}

	claims, err := parseState(s.secret, rawState)
	if err != nil {
		log.Warn().Err(err).Msg("rejected oauth callback state")
		c.Data(http.StatusBadRequest, "text/html; charset=utf-8", page("Link expired", "Your verification link expired or was tampered with. Start over from your verification link."))
		return
	}

	ctx := c.Request.Context()
	user, err := fetchIdentity(ctx, s.oauth, code)
	if err != nil {
		log.Error().Err(err).Msg("oauth identity fetch failed")
		c.Data(http.StatusBadGateway, "text/html; charset=utf-8", page("Discord error", "Could not confirm your Discord account. Please try again."))
		return
	}

	report := s.engine.VerifyClaim(ctx, user.ID, claims.ExternalID, claims.SeasonID)
	switch report.Verification.State {
	case verification.StateVerified:
		name := report.Verification.User.DisplayName
		if name == "" {
			name = user.Username
		}
		body := fmt.Sprintf("Welcome, %s! Your Discord account is verified and your access has been set up.", html.EscapeString(name))
		if report.PartialFailure() {
			body = fmt.Sprintf("Welcome, %s! You are verified, but some of your access could not be set up yet. The moderators have been notified.", html.EscapeString(name))
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", page("Verified", body))
	case verification.StateRejected:
		c.Data(http.StatusOK, "text/html; charset=utf-8", page("Verification failed", report.Verification.Reason.Message()))
	default:
		c.Data(http.StatusOK, "text/html; charset=utf-8", page("Verification pending", "Your claim was received but could not be completed. Please try again."))
	}
}

// HTTPServer - The server to run on the configured listen address; shutdown
// is handled by the caller.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}
}

func page(title, body string) []byte {
	return []byte(fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; max-width: 32rem; margin: 4rem auto;">
<h1>%s</h1>
<p>%s</p>
</body>
</html>`, html.EscapeString(title), html.EscapeString(title), body))
}
