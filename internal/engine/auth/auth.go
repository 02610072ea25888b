package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"plazos/internal/repo"
)

// ErrOwnerRequired is returned when a call carries no owner identity.
var ErrOwnerRequired = errors.New("owner_id required")

// ForbiddenError indicates the caller does not own the record.
type ForbiddenError struct {
	OwnerID  string
	EntityID string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("owner %s cannot access event %s", e.OwnerID, e.EntityID)
}

// RequireOwner checks that ownerID is present and matches recordOwner.
func RequireOwner(ownerID, recordOwner, entityID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrOwnerRequired
	}
	if ownerID != recordOwner {
		return ForbiddenError{OwnerID: ownerID, EntityID: entityID}
	}
	return nil
}

// Service resolves record ownership backed by SQL.
type Service struct {
	DB *sql.DB
}

// EnsureOwner loads the owner of entityID inside tx and checks it.
func (s Service) EnsureOwner(ctx context.Context, tx *sql.Tx, ownerID, entityID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrOwnerRequired
	}
	var recordOwner string
	err := tx.QueryRowContext(ctx, `SELECT owner_id FROM agenda_events WHERE id=?`, entityID).Scan(&recordOwner)
	if err == sql.ErrNoRows {
		return repo.ErrNotFound
	}
	if err != nil {
		return err
	}
	return RequireOwner(ownerID, recordOwner, entityID)
}
