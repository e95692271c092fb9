package ports

import (
	"context"

	"sepdex/internal/domain"
)

// PositionRepository defines the interface for storing and retrieving positions.
// Positions are never deleted; closed and liquidated records remain for history.
type PositionRepository interface {
	// Create saves a new position.
	Create(ctx context.Context, pos *domain.Position) error
	// Update modifies an existing position.
	Update(ctx context.Context, pos *domain.Position) error
	// FindByID retrieves a position by its unique ID.
	// Returns nil, nil if not found.
	FindByID(ctx context.Context, id string) (*domain.Position, error)
	// FindByUser retrieves all positions of a user, newest first.
	FindByUser(ctx context.Context, userID string) ([]*domain.Position, error)
	// FindOpenByUser retrieves the currently open positions of a user.
	FindOpenByUser(ctx context.Context, userID string) ([]*domain.Position, error)
	// FindAllOpen retrieves every open position across all users.
	// Used by the liquidation sweep to build its per-cycle work set.
	FindAllOpen(ctx context.Context) ([]*domain.Position, error)
}
