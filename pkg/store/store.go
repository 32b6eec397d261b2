// Package store is the SQL-backed view over users, resources, permission
// grants and delegated tokens. Grants are written by the administrative
// workflow; this service only reads them. The store satisfies the narrow
// interfaces the acl, identity and token packages consume.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/emstrack/mqttgate/pkg/acl"
	"github.com/emstrack/mqttgate/pkg/identity"
)

// Store wraps a database handle. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// GetUser returns the account record for a username, or
// identity.ErrUserNotFound if no such account exists.
func (s *Store) GetUser(ctx context.Context, username string) (*identity.User, error) {
	user := &identity.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_superuser, is_active
		FROM users WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsSuperuser, &user.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %q: %w", username, err)
	}
	return user, nil
}

// IsSuperuser reports the bypass role for a username. Unknown users are not
// superusers.
func (s *Store) IsSuperuser(ctx context.Context, username string) (bool, error) {
	var superuser bool
	err := s.db.QueryRowContext(ctx, `
		SELECT is_superuser FROM users WHERE username = $1 AND is_active = TRUE
	`, username).Scan(&superuser)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up superuser flag for %q: %w", username, err)
	}
	return superuser, nil
}

// LookupGrant returns the read/write grant for (username, kind, resourceID).
// Absence of a permission row is the zero grant, not an error.
func (s *Store) LookupGrant(ctx context.Context, username string, kind acl.ResourceKind, resourceID int) (acl.Grant, error) {
	var query string
	switch kind {
	case acl.ResourceAmbulance:
		query = `
			SELECT p.can_read, p.can_write
			FROM ambulance_permissions p
			JOIN users u ON p.user_id = u.id
			WHERE u.username = $1 AND p.ambulance_id = $2
		`
	case acl.ResourceHospital:
		query = `
			SELECT p.can_read, p.can_write
			FROM hospital_permissions p
			JOIN users u ON p.user_id = u.id
			WHERE u.username = $1 AND p.hospital_id = $2
		`
	default:
		return acl.Grant{}, fmt.Errorf("invalid resource kind %d", kind)
	}

	var grant acl.Grant
	err := s.db.QueryRowContext(ctx, query, username, resourceID).Scan(&grant.CanRead, &grant.CanWrite)
	if errors.Is(err, sql.ErrNoRows) {
		return acl.Grant{}, nil
	}
	if err != nil {
		return acl.Grant{}, fmt.Errorf("failed to look up %s grant for %q: %w", kind, username, err)
	}
	return grant, nil
}

// AmbulanceGrant is one entry of the profile document.
type AmbulanceGrant struct {
	AmbulanceID int64  `json:"ambulance_id"`
	Identifier  string `json:"ambulance_identifier"`
	CanRead     bool   `json:"can_read"`
	CanWrite    bool   `json:"can_write"`
}

// HospitalGrant is one entry of the profile document.
type HospitalGrant struct {
	HospitalID int64  `json:"hospital_id"`
	Name       string `json:"hospital_name"`
	CanRead    bool   `json:"can_read"`
	CanWrite   bool   `json:"can_write"`
}

// Profile is the grant summary served to a client so it knows which channels
// it may use. A superuser's profile lists every resource with both flags set.
type Profile struct {
	Ambulances []AmbulanceGrant `json:"ambulances"`
	Hospitals  []HospitalGrant  `json:"hospitals"`
}

// Profile assembles the grant summary for a username.
func (s *Store) Profile(ctx context.Context, username string) (*Profile, error) {
	superuser, err := s.IsSuperuser(ctx, username)
	if err != nil {
		return nil, err
	}
	if superuser {
		return s.superuserProfile(ctx)
	}

	profile := &Profile{
		Ambulances: make([]AmbulanceGrant, 0),
		Hospitals:  make([]HospitalGrant, 0),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.identifier, p.can_read, p.can_write
		FROM ambulance_permissions p
		JOIN users u ON p.user_id = u.id
		JOIN ambulances a ON p.ambulance_id = a.id
		WHERE u.username = $1
		ORDER BY a.id
	`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to list ambulance grants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g AmbulanceGrant
		if err := rows.Scan(&g.AmbulanceID, &g.Identifier, &g.CanRead, &g.CanWrite); err != nil {
			return nil, err
		}
		profile.Ambulances = append(profile.Ambulances, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT h.id, h.name, p.can_read, p.can_write
		FROM hospital_permissions p
		JOIN users u ON p.user_id = u.id
		JOIN hospitals h ON p.hospital_id = h.id
		WHERE u.username = $1
		ORDER BY h.id
	`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to list hospital grants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g HospitalGrant
		if err := rows.Scan(&g.HospitalID, &g.Name, &g.CanRead, &g.CanWrite); err != nil {
			return nil, err
		}
		profile.Hospitals = append(profile.Hospitals, g)
	}
	return profile, rows.Err()
}

func (s *Store) superuserProfile(ctx context.Context) (*Profile, error) {
	profile := &Profile{
		Ambulances: make([]AmbulanceGrant, 0),
		Hospitals:  make([]HospitalGrant, 0),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, identifier FROM ambulances ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ambulances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		g := AmbulanceGrant{CanRead: true, CanWrite: true}
		if err := rows.Scan(&g.AmbulanceID, &g.Identifier); err != nil {
			return nil, err
		}
		profile.Ambulances = append(profile.Ambulances, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id, name FROM hospitals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hospitals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		g := HospitalGrant{CanRead: true, CanWrite: true}
		if err := rows.Scan(&g.HospitalID, &g.Name); err != nil {
			return nil, err
		}
		profile.Hospitals = append(profile.Hospitals, g)
	}
	return profile, rows.Err()
}

// Ambulance is the resource state published on the ambulance data channels.
type Ambulance struct {
	ID         int64     `json:"id"`
	Identifier string    `json:"identifier"`
	Capability string    `json:"capability"`
	Status     string    `json:"status"`
	Comment    string    `json:"comment"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Hospital is the resource state published on the hospital data channels.
type Hospital struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Comment   string    `json:"comment"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HospitalEquipment is one equipment reading of a hospital.
type HospitalEquipment struct {
	HospitalID int64     `json:"hospital_id"`
	Name       string    `json:"name"`
	EType      string    `json:"etype"`
	Toggleable bool      `json:"toggleable"`
	Value      string    `json:"value"`
	Quantity   int       `json:"quantity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrResourceNotFound is returned for reads of nonexistent resources.
var ErrResourceNotFound = errors.New("resource not found")

// GetAmbulance returns one ambulance by id.
func (s *Store) GetAmbulance(ctx context.Context, id int64) (*Ambulance, error) {
	a := &Ambulance{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, identifier, capability, status, comment, updated_at
		FROM ambulances WHERE id = $1
	`, id).Scan(&a.ID, &a.Identifier, &a.Capability, &a.Status, &a.Comment, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ambulance %d: %w", id, err)
	}
	return a, nil
}

// GetHospital returns one hospital by id.
func (s *Store) GetHospital(ctx context.Context, id int64) (*Hospital, error) {
	h := &Hospital{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, comment, updated_at
		FROM hospitals WHERE id = $1
	`, id).Scan(&h.ID, &h.Name, &h.Address, &h.Comment, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load hospital %d: %w", id, err)
	}
	return h, nil
}

// ListHospitalEquipment returns all equipment readings of a hospital.
func (s *Store) ListHospitalEquipment(ctx context.Context, hospitalID int64) ([]HospitalEquipment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT he.hospital_id, e.name, e.etype, e.toggleable, he.value, he.quantity, he.updated_at
		FROM hospital_equipment he
		JOIN equipment e ON he.equipment_id = e.id
		WHERE he.hospital_id = $1
		ORDER BY e.name
	`, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list equipment for hospital %d: %w", hospitalID, err)
	}
	defer rows.Close()

	items := make([]HospitalEquipment, 0)
	for rows.Next() {
		var item HospitalEquipment
		if err := rows.Scan(&item.HospitalID, &item.Name, &item.EType, &item.Toggleable,
			&item.Value, &item.Quantity, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
