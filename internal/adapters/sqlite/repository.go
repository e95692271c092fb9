package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sepdex/internal/domain"
	"sepdex/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.PositionRepository interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/positions.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection (WAL mode for better concurrency)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		size REAL NOT NULL,
		leverage REAL NOT NULL,
		collateral REAL NOT NULL,
		liquidation_price REAL NOT NULL,
		status TEXT NOT NULL,
		realized_pnl REAL NOT NULL DEFAULT 0,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);

	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_positions_user_status ON positions (user_id, status);
	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

const positionColumns = `id, user_id, symbol, side, entry_price, size, leverage,
       collateral, liquidation_price, status, realized_pnl, opened_at, closed_at`

// Create saves a new position.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO positions (id, user_id, symbol, side, entry_price, size, leverage,
	                       collateral, liquidation_price, status, realized_pnl, opened_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		pos.ID, pos.UserID, pos.Symbol, pos.Side, pos.EntryPrice, pos.Size, pos.Leverage,
		pos.Collateral, pos.LiquidationPrice, pos.Status, pos.RealizedPnl, pos.OpenedAt)
	if err != nil {
		return fmt.Errorf("failed to insert position %s: %w", pos.ID, err)
	}
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": pos.ID, "userID": pos.UserID, "symbol": pos.Symbol})
	return nil
}

// Update modifies an existing position based on its ID.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET status = ?, realized_pnl = ?, closed_at = ?
	WHERE id = ?`

	var closedAt sql.NullTime
	if !pos.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: pos.ClosedAt, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query, pos.Status, pos.RealizedPnl, closedAt, pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position %s: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update of position %s: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position %s not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "status": pos.Status})
	return nil
}

// FindByID retrieves a position by its unique ID.
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Position not found by ID", map[string]interface{}{"positionID": id})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query position by ID %s: %w", id, err)
	}
	return pos, nil
}

// FindByUser retrieves all positions of a user, newest first.
func (r *Repository) FindByUser(ctx context.Context, userID string) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = ? ORDER BY opened_at DESC`
	return r.queryPositions(ctx, query, userID)
}

// FindOpenByUser retrieves the currently open positions of a user.
func (r *Repository) FindOpenByUser(ctx context.Context, userID string) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = ? AND status = ? ORDER BY opened_at DESC`
	return r.queryPositions(ctx, query, userID, domain.StatusOpen)
}

// FindAllOpen retrieves every open position across all users.
func (r *Repository) FindAllOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = ? ORDER BY opened_at ASC`
	return r.queryPositions(ctx, query, domain.StatusOpen)
}

func (r *Repository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side, status string
	var closedAt sql.NullTime
	err := s.Scan(
		&p.ID, &p.UserID, &p.Symbol, &side, &p.EntryPrice, &p.Size, &p.Leverage,
		&p.Collateral, &p.LiquidationPrice, &status, &p.RealizedPnl, &p.OpenedAt, &closedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}
