package store

import (
	"context"
	"fmt"
	"time"
)

// Administrative writes. These back the seeding tool and tests; the
// production write path is the external administrative workflow, which owns
// the same tables.

// CreateUser inserts an account and returns its id. The password hash must
// already be in the form identity.HashPassword produces.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, superuser bool) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, is_superuser, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $5)
		RETURNING id
	`, username, passwordHash, superuser, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create user %q: %w", username, err)
	}
	return id, nil
}

// CreateAmbulance inserts an ambulance and returns its id.
func (s *Store) CreateAmbulance(ctx context.Context, identifier, capability string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ambulances (identifier, capability, updated_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, identifier, capability, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create ambulance %q: %w", identifier, err)
	}
	return id, nil
}

// CreateHospital inserts a hospital and returns its id.
func (s *Store) CreateHospital(ctx context.Context, name, address string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO hospitals (name, address, updated_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, name, address, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create hospital %q: %w", name, err)
	}
	return id, nil
}

// CreateEquipment inserts an equipment definition and returns its id. etype
// is the value type letter: B for boolean, I for integer, S for string.
func (s *Store) CreateEquipment(ctx context.Context, name, etype string, toggleable bool) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO equipment (name, etype, toggleable)
		VALUES ($1, $2, $3)
		RETURNING id
	`, name, etype, toggleable).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create equipment %q: %w", name, err)
	}
	return id, nil
}

// SetHospitalEquipment upserts one equipment reading of a hospital.
func (s *Store) SetHospitalEquipment(ctx context.Context, hospitalID, equipmentID int64, value string, quantity int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hospital_equipment (hospital_id, equipment_id, value, quantity, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT(hospital_id, equipment_id) DO UPDATE SET
			value = excluded.value,
			quantity = excluded.quantity,
			updated_at = excluded.updated_at
	`, hospitalID, equipmentID, value, quantity, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set equipment %d for hospital %d: %w", equipmentID, hospitalID, err)
	}
	return nil
}

// SetAmbulancePermission upserts a user's grant on an ambulance.
func (s *Store) SetAmbulancePermission(ctx context.Context, userID, ambulanceID int64, canRead, canWrite bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ambulance_permissions (user_id, ambulance_id, can_read, can_write)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT(user_id, ambulance_id) DO UPDATE SET
			can_read = excluded.can_read,
			can_write = excluded.can_write
	`, userID, ambulanceID, canRead, canWrite)
	if err != nil {
		return fmt.Errorf("failed to set ambulance permission: %w", err)
	}
	return nil
}

// SetHospitalPermission upserts a user's grant on a hospital.
func (s *Store) SetHospitalPermission(ctx context.Context, userID, hospitalID int64, canRead, canWrite bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hospital_permissions (user_id, hospital_id, can_read, can_write)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT(user_id, hospital_id) DO UPDATE SET
			can_read = excluded.can_read,
			can_write = excluded.can_write
	`, userID, hospitalID, canRead, canWrite)
	if err != nil {
		return fmt.Errorf("failed to set hospital permission: %w", err)
	}
	return nil
}
