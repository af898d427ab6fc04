package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/ridesbot/core/logger"
	"github.com/m3rciful/ridesbot/rides/ride"
)

const rideColumns = `id, owner_id, from_location, to_location, capacity, time_range, comment, status, version, created_at, updated_at`

// Postgres stores rides in the "rides" table created by the migrations.
//
// Update locks the row with SELECT ... FOR UPDATE inside a transaction, so the
// validated read-modify-write cannot interleave with another writer. Delete and
// ExpireBefore are single conditional statements and are atomic on their own.
type Postgres struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgres wraps an open sqlx handle.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

// Create inserts a new active ride with a fresh UUID.
func (s *Postgres) Create(ctx context.Context, n ride.NewRide) (string, error) {
	n = n.Normalize()
	if err := n.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := s.now().UTC()
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rides (id, owner_id, from_location, to_location, capacity, time_range, comment, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)`,
		id, n.OwnerID, n.From, n.To, n.Capacity, n.TimeRange, n.Comment, ride.StatusActive, now,
	)
	if err != nil {
		logQueryFailure(ctx, "create", err, start)
		return "", ride.Storage("create", err)
	}
	logger.Debug(ctx, "service.rides", "ride.insert",
		slog.String("status", "ok"),
		slog.String("ride_id", id),
		slog.Int64("owner_id", n.OwnerID),
		slog.Duration("duration", logger.Took(start)),
	)
	return id, nil
}

// Update applies p to the owner's ride under a row lock.
func (s *Postgres) Update(ctx context.Context, ownerID int64, rideID string, p ride.Patch) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	if !validID(rideID) {
		return false, nil
	}

	start := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		logQueryFailure(ctx, "update", err, start)
		return false, ride.Storage("update", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur ride.Ride
	err = tx.GetContext(ctx, &cur,
		`SELECT `+rideColumns+` FROM rides WHERE id = $1 AND owner_id = $2 FOR UPDATE`,
		rideID, ownerID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		logQueryFailure(ctx, "update", err, start)
		return false, ride.Storage("update", err)
	}

	next := cur
	p.Apply(&next)
	if err := next.Validate(); err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE rides
		SET from_location = $1, to_location = $2, capacity = $3, time_range = $4, comment = $5,
		    status = $6, version = version + 1, updated_at = $7
		WHERE id = $8`,
		next.From, next.To, next.Capacity, next.TimeRange, next.Comment, next.Status, s.now().UTC(), rideID,
	)
	if err != nil {
		logQueryFailure(ctx, "update", err, start)
		return false, ride.Storage("update", err)
	}
	if err := tx.Commit(); err != nil {
		logQueryFailure(ctx, "update", err, start)
		return false, ride.Storage("update", err)
	}
	return true, nil
}

// Fetch lists the owner's rides, newest first.
func (s *Postgres) Fetch(ctx context.Context, ownerID int64, activeOnly bool) ([]ride.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE owner_id = $1`
	args := []any{ownerID}
	if activeOnly {
		query += ` AND status = $2`
		args = append(args, ride.StatusActive)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	start := time.Now()
	rides := make([]ride.Ride, 0)
	if err := s.db.SelectContext(ctx, &rides, query, args...); err != nil {
		logQueryFailure(ctx, "fetch", err, start)
		return nil, ride.Storage("fetch", err)
	}
	return rides, nil
}

// Delete cancels (soft) or removes (hard) the owner's ride.
func (s *Postgres) Delete(ctx context.Context, ownerID int64, rideID string, deactivateOnly bool) (bool, error) {
	if !validID(rideID) {
		return false, nil
	}

	start := time.Now()
	var (
		res sql.Result
		err error
	)
	if deactivateOnly {
		// Re-cancelling matches the row without bumping its version.
		res, err = s.db.ExecContext(ctx, `
			UPDATE rides
			SET version = CASE WHEN status = $3 THEN version ELSE version + 1 END,
			    updated_at = CASE WHEN status = $3 THEN updated_at ELSE $4 END,
			    status = $3
			WHERE id = $1 AND owner_id = $2`,
			rideID, ownerID, ride.StatusCancelled, s.now().UTC(),
		)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM rides WHERE id = $1 AND owner_id = $2`, rideID, ownerID)
	}
	if err != nil {
		logQueryFailure(ctx, "delete", err, start)
		return false, ride.Storage("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, ride.Storage("delete", err)
	}
	return n > 0, nil
}

// ExpireBefore flips active rides created before cutoff to expired.
func (s *Postgres) ExpireBefore(ctx context.Context, cutoff time.Time) ([]ride.Ride, error) {
	start := time.Now()
	var expired []ride.Ride
	err := s.db.SelectContext(ctx, &expired, `
		UPDATE rides
		SET status = $1, version = version + 1, updated_at = $2
		WHERE status = $3 AND created_at < $4
		RETURNING `+rideColumns,
		ride.StatusExpired, s.now().UTC(), ride.StatusActive, cutoff.UTC(),
	)
	if err != nil {
		logQueryFailure(ctx, "expire", err, start)
		return nil, ride.Storage("expire", err)
	}
	return expired, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func logQueryFailure(ctx context.Context, op string, err error, start time.Time) {
	logger.Error(ctx, "db", "ride.query",
		slog.String("status", "fail"),
		slog.String("op", op),
		slog.String("err", logger.SanitizeLimit(fmt.Sprint(err), 256)),
		slog.Duration("duration", logger.Took(start)),
	)
}

var _ ride.Store = (*Postgres)(nil)
