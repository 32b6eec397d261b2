package acl

import (
	"context"
	"errors"
	"testing"

	"github.com/emstrack/mqttgate/pkg/identity"
)

type grantKey struct {
	username   string
	kind       ResourceKind
	resourceID int
}

// fakeGrantStore serves grants from a map and records lookups so tests can
// assert that identity-binding failures never reach the store.
type fakeGrantStore struct {
	grants     map[grantKey]Grant
	superusers map[string]bool
	err        error
	lookups    int
}

func (s *fakeGrantStore) LookupGrant(_ context.Context, username string, kind ResourceKind, resourceID int) (Grant, error) {
	s.lookups++
	if s.err != nil {
		return Grant{}, s.err
	}
	return s.grants[grantKey{username, kind, resourceID}], nil
}

func (s *fakeGrantStore) IsSuperuser(_ context.Context, username string) (bool, error) {
	return s.superusers[username], nil
}

func newTestEngine(store *fakeGrantStore) *Engine {
	return NewEngine(store, nil, nil)
}

func user(name string) identity.Principal {
	return identity.Principal{Username: name}
}

var admin = identity.Principal{Username: "admin", IsSuperuser: true}

func TestDecide_Settings(t *testing.T) {
	e := newTestEngine(&fakeGrantStore{})

	for _, p := range []identity.Principal{user("u1"), user("u2"), admin} {
		if !e.Decide(context.Background(), p, "c1", ActionSubscribe, "settings") {
			t.Errorf("%s: subscribe settings should be allowed", p.Username)
		}
	}
	if e.Decide(context.Background(), user("u1"), "c1", ActionPublish, "settings") {
		t.Error("publish settings should be denied")
	}
}

func TestDecide_UserProfileAndError(t *testing.T) {
	e := newTestEngine(&fakeGrantStore{})
	ctx := context.Background()

	for _, name := range []string{"user/u1/profile", "user/u1/error"} {
		if !e.Decide(ctx, user("u1"), "c1", ActionSubscribe, name) {
			t.Errorf("owner subscribe %s should be allowed", name)
		}
		if e.Decide(ctx, user("u2"), "c1", ActionSubscribe, name) {
			t.Errorf("non-owner subscribe %s should be denied", name)
		}
		// Server-authored: publish denied even for the owner.
		if e.Decide(ctx, user("u1"), "c1", ActionPublish, name) {
			t.Errorf("owner publish %s should be denied", name)
		}
	}
}

func TestDecide_UserClientStatus(t *testing.T) {
	e := newTestEngine(&fakeGrantStore{})
	ctx := context.Background()

	if !e.Decide(ctx, user("u1"), "phone1", ActionPublish, "user/u1/client/phone1/status") {
		t.Error("matching username and client id should allow publish")
	}
	if e.Decide(ctx, user("u1"), "phone1", ActionPublish, "user/u2/client/phone1/status") {
		t.Error("username mismatch should deny")
	}
	if e.Decide(ctx, user("u1"), "phone1", ActionPublish, "user/u1/client/phone2/status") {
		t.Error("client id mismatch should deny")
	}
	if e.Decide(ctx, user("u1"), "phone1", ActionSubscribe, "user/u1/client/phone1/status") {
		t.Error("subscribe is not a defined use of the status channel")
	}
}

func TestDecide_AmbulanceGrants(t *testing.T) {
	store := &fakeGrantStore{grants: map[grantKey]Grant{
		{"u2", ResourceAmbulance, 3}: {CanRead: true, CanWrite: true},
	}}
	e := newTestEngine(store)
	ctx := context.Background()

	if e.Decide(ctx, user("u1"), "c1", ActionSubscribe, "ambulance/3/data") {
		t.Error("u1 has no grant on ambulance 3")
	}
	if !e.Decide(ctx, user("u2"), "c1", ActionSubscribe, "ambulance/3/data") {
		t.Error("u2 can read ambulance 3")
	}
	if e.Decide(ctx, user("u2"), "c1", ActionPublish, "ambulance/3/data") {
		t.Error("broadcast ambulance channel is consumer-only")
	}
	if !e.Decide(ctx, user("u2"), "c1", ActionPublish, "user/u2/ambulance/3/data") {
		t.Error("u2 can write ambulance 3 through the user-scoped channel")
	}
	// Identity binding dominates the grant.
	if e.Decide(ctx, user("u2"), "c1", ActionPublish, "user/u1/ambulance/3/data") {
		t.Error("identity mismatch should deny regardless of grant")
	}
	if e.Decide(ctx, user("u2"), "c1", ActionSubscribe, "user/u2/ambulance/3/data") {
		t.Error("user-scoped ambulance channel has no subscribe semantics")
	}
}

func TestDecide_HospitalGrants(t *testing.T) {
	store := &fakeGrantStore{grants: map[grantKey]Grant{
		{"u1", ResourceHospital, 5}: {CanRead: true},
		{"u2", ResourceHospital, 5}: {CanWrite: true},
	}}
	e := newTestEngine(store)
	ctx := context.Background()

	for _, name := range []string{
		"hospital/5/data",
		"hospital/5/metadata",
		"hospital/5/equipment/beds/data",
		"hospital/5/equipment/+/data",
	} {
		if !e.Decide(ctx, user("u1"), "c1", ActionSubscribe, name) {
			t.Errorf("u1 with can_read should subscribe %s", name)
		}
		if e.Decide(ctx, user("u1"), "c1", ActionPublish, name) {
			t.Errorf("publish on broadcast hospital channel %s should be denied", name)
		}
	}

	// can_write does not imply can_read.
	if e.Decide(ctx, user("u2"), "c1", ActionSubscribe, "hospital/5/data") {
		t.Error("u2 holds write only; subscribe should be denied")
	}
	if !e.Decide(ctx, user("u2"), "c1", ActionPublish, "user/u2/hospital/5/data") {
		t.Error("u2 can write hospital 5")
	}
	// u1 holds read only; user-scoped publish should be denied.
	if e.Decide(ctx, user("u1"), "c1", ActionPublish, "user/u1/hospital/5/data") {
		t.Error("u1 holds read only; publish should be denied")
	}
}

func TestDecide_Superuser(t *testing.T) {
	// No grants at all for admin.
	e := newTestEngine(&fakeGrantStore{})
	ctx := context.Background()

	if !e.Decide(ctx, admin, "c1", ActionSubscribe, "ambulance/42/data") {
		t.Error("superuser bypasses grant checks")
	}
	if !e.Decide(ctx, admin, "c1", ActionPublish, "hospital/999/metadata") {
		t.Error("superuser bypasses the write protection on defined kinds")
	}
	if !e.Decide(ctx, admin, "c1", ActionPublish, "user/someone/profile") {
		t.Error("superuser bypasses identity binding")
	}
	// Unknown kinds deny even for the superuser.
	if e.Decide(ctx, admin, "c1", ActionSubscribe, "not/a/topic") {
		t.Error("unknown topics deny for everyone")
	}
}

func TestDecide_IdentityBindingCheckedBeforeGrantLookup(t *testing.T) {
	store := &fakeGrantStore{grants: map[grantKey]Grant{
		{"u2", ResourceAmbulance, 3}: {CanRead: true, CanWrite: true},
	}}
	e := newTestEngine(store)

	e.Decide(context.Background(), user("u2"), "c1", ActionPublish, "user/u1/ambulance/3/data")
	if store.lookups != 0 {
		t.Errorf("grant store consulted %d times on an identity mismatch, want 0", store.lookups)
	}
}

func TestDecide_StoreFailureDenies(t *testing.T) {
	store := &fakeGrantStore{err: errors.New("connection refused")}
	e := newTestEngine(store)

	if e.Decide(context.Background(), user("u1"), "c1", ActionSubscribe, "hospital/5/data") {
		t.Error("a grant store failure must deny")
	}
}

func TestParseAccess(t *testing.T) {
	if a, err := ParseAccess("1"); err != nil || a != ActionSubscribe {
		t.Errorf("ParseAccess(1) = %v, %v", a, err)
	}
	if a, err := ParseAccess("2"); err != nil || a != ActionPublish {
		t.Errorf("ParseAccess(2) = %v, %v", a, err)
	}
	for _, acc := range []string{"", "0", "3", "4", "read", "12"} {
		if _, err := ParseAccess(acc); err == nil {
			t.Errorf("ParseAccess(%q) should fail", acc)
		}
	}
}
