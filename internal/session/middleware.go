package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/auth"
	"github.com/sakif/inkwell/internal/identity"
)

// Resolver builds the State for one request's token.
type Resolver struct {
	provider    *identity.Provider
	provisioner *Provisioner
}

func NewResolver(provider *identity.Provider, provisioner *Provisioner) *Resolver {
	return &Resolver{provider: provider, provisioner: provisioner}
}

// Resolve authenticates token and loads (or creates) its profile. An empty
// token resolves to Anonymous without error.
func (r *Resolver) Resolve(ctx context.Context, token string) (State, *identity.Identity, error) {
	if token == "" {
		return Anonymous(), nil, nil
	}
	id, err := r.provider.Authenticate(ctx, token)
	if err != nil {
		return Anonymous(), nil, err
	}
	profile, err := r.provisioner.EnsureProfile(ctx, id)
	if err != nil {
		return Anonymous(), nil, err
	}
	return Authenticated(profile), id, nil
}

// Middleware attaches a State to every request. A missing or rejected token
// leaves the request anonymous; services decide whether that is enough.
// A transient store failure answers 503 rather than silently downgrading the
// caller to anonymous.
func Middleware(resolver *Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state, _, err := resolver.Resolve(r.Context(), auth.TokenFromRequest(r))
			if err != nil && !errors.Is(err, apperror.ErrUnauthenticated) {
				logger.Warn("resolving session failed",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				if apperror.IsTransient(err) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusServiceUnavailable)
					w.Write([]byte(`{"error":"unavailable","message":"session store unavailable, retry later"}`))
					return
				}
			}

			ctx := WithState(r.Context(), state)
			if state.Authenticated() {
				ctx = auth.WithUserID(ctx, state.UserID())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
