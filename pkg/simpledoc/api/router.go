package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

// TokenIssuer signs bearer tokens for authenticated principals.
type TokenIssuer interface {
	Issue(principal simpledoc.Principal, ttl time.Duration) (string, error)
}

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Service       simpledoc.Service
	Authenticator simpledoc.Authenticator
	Logger        *slog.Logger

	// Issuer and TokenTTL enable POST /v1/token. Optional.
	Issuer   TokenIssuer
	TokenTTL time.Duration
}

// NewRouter builds the versioned API router.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthenticationMiddleware(cfg.Authenticator))

		if cfg.Issuer != nil {
			r.Post("/token", issueToken(cfg.Issuer, cfg.TokenTTL))
		}
		r.Mount("/documents", NewDocumentHandler(cfg.Service, cfg.Logger).Routes())
		r.Mount("/search", NewSearchHandler(cfg.Service).Routes())
		r.Mount("/roles", NewRoleHandler(cfg.Service).Routes())
	})

	return r
}

// TokenResponse is the response body for an issued token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// issueToken exchanges already verified credentials for a bearer token.
func issueToken(issuer TokenIssuer, ttl time.Duration) http.HandlerFunc {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		token, err := issuer.Issue(p, ttl)
		if err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, TokenResponse{Token: token, ExpiresAt: time.Now().Add(ttl).UTC()})
	}
}
