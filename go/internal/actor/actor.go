// Package actor resolves who is acting on a request and whether they hold the game master role.
package actor

import (
	"context"
	"net/http"
	"strings"

	"github.com/mcdev12/tavern/go/internal/models"
)

// System is the server's own identity, used by background loops such as the timer watcher.
var System = models.Actor{ID: "system", Nick: "system"}

// Authorizer decides privilege for an actor. It is the only place the rule lives.
type Authorizer struct {
	masters map[string]struct{}
}

// NewAuthorizer grants the privileged role to the given emails, compared case-insensitively.
func NewAuthorizer(masterEmails []string) *Authorizer {
	a := &Authorizer{masters: make(map[string]struct{}, len(masterEmails))}
	for _, email := range masterEmails {
		email = normalizeEmail(email)
		if email != "" {
			a.masters[email] = struct{}{}
		}
	}
	return a
}

// IsPrivileged reports whether who may mutate shared state.
func (a *Authorizer) IsPrivileged(who models.Actor) bool {
	if who == System {
		return true
	}
	if a == nil || who.Email == "" {
		return false
	}
	_, ok := a.masters[normalizeEmail(who.Email)]
	return ok
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type contextKey struct{}

// WithActor returns a copy of ctx carrying who.
func WithActor(ctx context.Context, who models.Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, who)
}

// FromContext returns the actor stored by Middleware, or the zero actor.
func FromContext(ctx context.Context) models.Actor {
	who, _ := ctx.Value(contextKey{}).(models.Actor)
	return who
}

// Middleware reads the caller identity from X-User-* headers, falling back to query
// parameters for websocket clients that cannot set headers.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), FromRequest(r))))
	})
}

func FromRequest(r *http.Request) models.Actor {
	q := r.URL.Query()
	pick := func(header, param string) string {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
		return strings.TrimSpace(q.Get(param))
	}
	return models.Actor{
		ID:    pick("X-User-Id", "user_id"),
		Nick:  pick("X-User-Nick", "nick"),
		Email: pick("X-User-Email", "email"),
	}
}
