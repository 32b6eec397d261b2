package api

import (
	"errors"
	"net/http"

	"github.com/emstrack/mqttgate/pkg/acl"
	"github.com/emstrack/mqttgate/pkg/identity"
)

// The broker auth plugin understands exactly two answers: 200 allows,
// 403 denies. Malformed requests and backend failures both deny; the log
// carries the difference.

func deny(w http.ResponseWriter) {
	w.WriteHeader(http.StatusForbidden)
}

func allow(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
}

// mqttLogin handles POST /auth/mqtt/login.
func (s *Server) mqttLogin(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		s.observeAuth(false)
		deny(w)
		return
	}

	_, err := s.gateway.Authenticate(r.Context(), username, password)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidCredentials) {
			s.log.WithError(err).WithField("username", username).
				Error("login check failed on backend error")
		}
		s.observeAuth(false)
		deny(w)
		return
	}

	s.observeAuth(true)
	allow(w)
}

// mqttSuperuser handles POST /auth/mqtt/superuser.
func (s *Server) mqttSuperuser(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	if username == "" {
		deny(w)
		return
	}

	superuser, err := s.grants.IsSuperuser(r.Context(), username)
	if err != nil {
		s.log.WithError(err).WithField("username", username).
			Error("superuser check failed on backend error")
		deny(w)
		return
	}
	if !superuser {
		deny(w)
		return
	}
	allow(w)
}

// mqttACL handles POST /auth/mqtt/acl.
func (s *Server) mqttACL(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	clientID := r.PostFormValue("clientid")
	topicName := r.PostFormValue("topic")
	acc := r.PostFormValue("acc")
	if username == "" || topicName == "" {
		deny(w)
		return
	}

	action, err := acl.ParseAccess(acc)
	if err != nil {
		deny(w)
		return
	}

	superuser, err := s.grants.IsSuperuser(r.Context(), username)
	if err != nil {
		s.log.WithError(err).WithField("username", username).
			Error("acl check failed on backend error")
		deny(w)
		return
	}

	principal := identity.Principal{Username: username, IsSuperuser: superuser}
	if !s.engine.Decide(r.Context(), principal, clientID, action, topicName) {
		deny(w)
		return
	}
	allow(w)
}

func (s *Server) observeAuth(allowed bool) {
	if s.metrics != nil {
		s.metrics.ObserveAuthAttempt(allowed)
	}
}
