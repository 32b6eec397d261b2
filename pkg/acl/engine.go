// Package acl decides whether a bus client may subscribe or publish to a
// topic. Decisions combine the superuser bypass, identity binding on
// user-scoped topics, and per-resource read/write grants. Every failure mode
// folds into a plain deny so callers cannot tell a missing grant from a
// mismatched identity.
package acl

import (
	"context"
	"fmt"

	"github.com/emstrack/mqttgate/pkg/identity"
	"github.com/emstrack/mqttgate/pkg/observability"
	"github.com/emstrack/mqttgate/pkg/topic"
)

// Action is a bus operation being authorized.
type Action int

const (
	ActionSubscribe Action = iota + 1
	ActionPublish
)

func (a Action) String() string {
	switch a {
	case ActionSubscribe:
		return "subscribe"
	case ActionPublish:
		return "publish"
	}
	return "invalid"
}

// ParseAccess decodes the numeric access code the broker plugin sends
// (1 for subscribe, 2 for publish).
func ParseAccess(acc string) (Action, error) {
	switch acc {
	case "1":
		return ActionSubscribe, nil
	case "2":
		return ActionPublish, nil
	}
	return 0, fmt.Errorf("invalid access code %q", acc)
}

// ResourceKind selects which grant table a lookup targets.
type ResourceKind int

const (
	ResourceAmbulance ResourceKind = iota + 1
	ResourceHospital
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceAmbulance:
		return "ambulance"
	case ResourceHospital:
		return "hospital"
	}
	return "invalid"
}

// Grant is a user's read/write permission on one resource. The flags are
// independent; write does not imply read. The zero value is the
// no-permission grant used when no row exists.
type Grant struct {
	CanRead  bool
	CanWrite bool
}

// GrantStore is the read-only permission view the engine consults.
type GrantStore interface {
	// LookupGrant returns the grant for (username, kind, resourceID).
	// Absence of a record is the zero Grant, not an error.
	LookupGrant(ctx context.Context, username string, kind ResourceKind, resourceID int) (Grant, error)

	// IsSuperuser reports whether the user holds the bypass role.
	IsSuperuser(ctx context.Context, username string) (bool, error)
}

// Engine is the authorization core. It is stateless between calls and safe
// for concurrent use.
type Engine struct {
	grants  GrantStore
	log     *observability.Logger
	metrics *observability.Metrics
}

// NewEngine creates an engine over the given grant store. metrics may be nil.
func NewEngine(grants GrantStore, log *observability.Logger, metrics *observability.Metrics) *Engine {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Engine{grants: grants, log: log, metrics: metrics}
}

// Decide authorizes one action by the given principal on the given topic.
// clientID is the bus client identifier of the connection attempting the
// action.
func (e *Engine) Decide(ctx context.Context, principal identity.Principal, clientID string, action Action, name string) bool {
	req := topic.Parse(name)
	allowed := e.decide(ctx, principal, clientID, action, req)

	e.log.WithField("username", principal.Username).
		WithField("client_id", clientID).
		WithField("action", action.String()).
		WithField("kind", req.Kind.String()).
		WithField("allowed", allowed).
		Debug("acl decision")
	if e.metrics != nil {
		e.metrics.ObserveDecision(action.String(), req.Kind.String(), allowed)
	}
	return allowed
}

func (e *Engine) decide(ctx context.Context, principal identity.Principal, clientID string, action Action, req topic.Request) bool {
	// An unparseable topic denies for everyone, superusers included: there
	// is nothing in the taxonomy to authorize.
	if req.Kind == topic.KindUnknown {
		return false
	}

	if principal.IsSuperuser {
		return true
	}

	switch req.Kind {
	case topic.KindSettings:
		// Read-only broadcast channel.
		return action == ActionSubscribe

	case topic.KindUserProfile, topic.KindUserError:
		// Server-authored channels: the owner may listen, nobody may write.
		return req.Username == principal.Username && action == ActionSubscribe

	case topic.KindUserClientStatus:
		// Status is self-reported per physical connection, so both the
		// username and the client id in the topic must match the caller.
		return req.Username == principal.Username &&
			req.ClientID == clientID &&
			action == ActionPublish

	case topic.KindUserAmbulanceData:
		if req.Username != principal.Username || action != ActionPublish {
			return false
		}
		return e.canWrite(ctx, principal.Username, ResourceAmbulance, req.ResourceID)

	case topic.KindUserHospitalData:
		if req.Username != principal.Username || action != ActionPublish {
			return false
		}
		return e.canWrite(ctx, principal.Username, ResourceHospital, req.ResourceID)

	case topic.KindAmbulanceData:
		if action != ActionSubscribe {
			return false
		}
		return e.canRead(ctx, principal.Username, ResourceAmbulance, req.ResourceID)

	case topic.KindHospitalData, topic.KindHospitalMetadata, topic.KindHospitalEquipmentData:
		if action != ActionSubscribe {
			return false
		}
		return e.canRead(ctx, principal.Username, ResourceHospital, req.ResourceID)
	}

	return false
}

func (e *Engine) canRead(ctx context.Context, username string, kind ResourceKind, id int) bool {
	grant, err := e.lookup(ctx, username, kind, id)
	return err == nil && grant.CanRead
}

func (e *Engine) canWrite(ctx context.Context, username string, kind ResourceKind, id int) bool {
	grant, err := e.lookup(ctx, username, kind, id)
	return err == nil && grant.CanWrite
}

func (e *Engine) lookup(ctx context.Context, username string, kind ResourceKind, id int) (Grant, error) {
	grant, err := e.grants.LookupGrant(ctx, username, kind, id)
	if err != nil {
		// A store failure denies; it must not surface to the caller.
		e.log.WithError(err).
			WithField("username", username).
			WithField("resource", kind.String()).
			Warn("grant lookup failed")
		return Grant{}, err
	}
	return grant, nil
}
