package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/appointment"
)

const actorKey contextKey = "actor"

// AuthMiddleware resolves the acting identity from a bearer token. The
// engine never looks at ambient session state: every operation downstream
// receives the resolved Actor explicitly.
//
// In dev (empty secret) the X-Actor-ID / X-Actor-Role headers are accepted
// instead, which is what the seed and simulate tools use.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := resolveActor(r, secret)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
		})
	}
}

func resolveActor(r *http.Request, secret string) (appointment.Actor, bool) {
	auth := r.Header.Get("Authorization")

	if secret == "" {
		id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
		role := r.Header.Get("X-Actor-Role")
		if err != nil || !validRole(role) {
			return appointment.Actor{}, false
		}
		return appointment.Actor{ID: id, Role: role}, true
	}

	if !strings.HasPrefix(auth, "Bearer ") {
		return appointment.Actor{}, false
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return appointment.Actor{}, false
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return appointment.Actor{}, false
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return appointment.Actor{}, false
	}

	role, _ := claims["role"].(string)
	if !validRole(role) {
		return appointment.Actor{}, false
	}

	return appointment.Actor{ID: id, Role: role}, true
}

func validRole(role string) bool {
	switch role {
	case appointment.RolePatient, appointment.RoleDoctor, appointment.RoleClinic, appointment.RoleAdmin:
		return true
	}
	return false
}

// ActorFrom returns the actor placed in the context by AuthMiddleware.
func ActorFrom(ctx context.Context) (appointment.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(appointment.Actor)
	return actor, ok
}

// roleAllowed reports whether the actor's role is one of the allowed set.
func roleAllowed(actor appointment.Actor, roles ...string) bool {
	for _, r := range roles {
		if actor.Role == r {
			return true
		}
	}
	return false
}
