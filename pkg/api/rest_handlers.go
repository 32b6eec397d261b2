package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/emstrack/mqttgate/pkg/events"
	"github.com/emstrack/mqttgate/pkg/httputil"
	"github.com/emstrack/mqttgate/pkg/identity"
)

type contextKey string

const principalKey contextKey = "principal"

// requireUser authenticates the request with HTTP basic auth and stores the
// principal on the request context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="mqttgate"`)
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		principal, err := s.gateway.Authenticate(r.Context(), username, password)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidCredentials) {
				httputil.WriteUnauthorized(w, "invalid credentials")
				return
			}
			s.log.WithError(err).WithField("username", username).
				Error("authentication failed on backend error")
			httputil.WriteInternalError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) *identity.Principal {
	principal, _ := ctx.Value(principalKey).(*identity.Principal)
	return principal
}

// authorizeSelf allows the request when it targets the caller's own account
// or the caller is a superuser.
func authorizeSelf(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal := principalFrom(r.Context())
	target := mux.Vars(r)["username"]
	if principal == nil || target == "" {
		httputil.WriteForbidden(w, "access denied")
		return "", false
	}
	if principal.Username != target && !principal.IsSuperuser {
		httputil.WriteForbidden(w, "access denied")
		return "", false
	}
	return target, true
}

// getProfile handles GET /api/user/{username}/profile.
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	target, ok := authorizeSelf(w, r)
	if !ok {
		return
	}

	profile, err := s.profiles.Profile(r.Context(), target)
	if err != nil {
		s.log.WithError(err).WithField("username", target).Error("failed to load profile")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, profile)
}

// getPassword handles GET /api/user/{username}/password. It returns the
// current delegated credential handle, issuing a token on first request.
func (s *Server) getPassword(w http.ResponseWriter, r *http.Request) {
	target, ok := authorizeSelf(w, r)
	if !ok {
		return
	}

	handle, err := s.tokens.HandleOrIssue(r.Context(), target)
	if err != nil {
		s.log.WithError(err).WithField("username", target).Error("failed to issue token handle")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, handle)
}

type eventRequest struct {
	Kind       events.Kind `json:"kind"`
	ResourceID int64       `json:"resource_id"`
	Equipment  string      `json:"equipment,omitempty"`
}

// postEvent handles POST /api/events. Superusers only; the administrative
// workflow notifies the dispatcher after a resource write.
func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if principal == nil || !principal.IsSuperuser {
		httputil.WriteForbidden(w, "access denied")
		return
	}

	var req eventRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.Kind.Valid() {
		httputil.WriteBadRequest(w, "unknown event kind")
		return
	}
	if req.ResourceID <= 0 {
		httputil.WriteBadRequest(w, "resource_id must be positive")
		return
	}

	event := events.NewResourceChanged(req.Kind, req.ResourceID, req.Equipment)
	if err := s.dispatcher.Enqueue(event); err != nil {
		s.log.WithError(err).Warn("event queue is full")
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "event queue is full")
		return
	}
	httputil.WriteAccepted(w, map[string]string{"event_id": event.EventID})
}
