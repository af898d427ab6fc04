// Package ride defines the ride record, its field invariants, and the storage
// contract every backend must satisfy.
package ride

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Length limits, in characters, for the free-text fields. They keep a fully
// rendered ride well inside a single Telegram message.
const (
	MaxLocationLen  = 100
	MaxTimeRangeLen = 64
	MaxCommentLen   = 500
)

// Status is the lifecycle state of a published ride.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ParseStatus maps user input onto a Status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Ride is a published carpool offer. ID, OwnerID and CreatedAt never change after creation.
type Ride struct {
	ID        string    `db:"id" json:"id"`
	OwnerID   int64     `db:"owner_id" json:"owner_id"`
	From      string    `db:"from_location" json:"from_location"`
	To        string    `db:"to_location" json:"to_location"`
	Capacity  int       `db:"capacity" json:"capacity"`
	TimeRange string    `db:"time_range" json:"time_range,omitempty"`
	Comment   string    `db:"comment" json:"comment,omitempty"`
	Status    Status    `db:"status" json:"status"`
	Version   int64     `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Active reports whether the ride is still offered.
func (r Ride) Active() bool {
	return r.Status == StatusActive
}

// Validate checks the invariants that hold for every stored ride.
func (r Ride) Validate() error {
	if err := validateLocation(FieldFrom, r.From); err != nil {
		return err
	}
	if err := validateLocation(FieldTo, r.To); err != nil {
		return err
	}
	if err := validateCapacity(r.Capacity); err != nil {
		return err
	}
	if err := validateOptional(r.TimeRange, r.Comment); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return invalid(FieldStatus, "must be one of active, cancelled, expired")
	}
	return nil
}

// NewRide carries the fields supplied when a ride is created.
type NewRide struct {
	OwnerID   int64
	From      string
	To        string
	Capacity  int
	TimeRange string
	Comment   string
}

// Normalize trims surrounding whitespace from the free-text fields.
func (n NewRide) Normalize() NewRide {
	n.From = strings.TrimSpace(n.From)
	n.To = strings.TrimSpace(n.To)
	n.TimeRange = strings.TrimSpace(n.TimeRange)
	n.Comment = strings.TrimSpace(n.Comment)
	return n
}

// Validate enforces the creation invariants on an already normalized value.
func (n NewRide) Validate() error {
	if err := validateLocation(FieldFrom, n.From); err != nil {
		return err
	}
	if err := validateLocation(FieldTo, n.To); err != nil {
		return err
	}
	if err := validateCapacity(n.Capacity); err != nil {
		return err
	}
	return validateOptional(n.TimeRange, n.Comment)
}

// Patch lists the mutable fields of a ride; nil fields are left untouched.
type Patch struct {
	From      *string
	To        *string
	Capacity  *int
	TimeRange *string
	Comment   *string
	Status    *Status
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.From == nil && p.To == nil && p.Capacity == nil &&
		p.TimeRange == nil && p.Comment == nil && p.Status == nil
}

// Validate checks every field present in the patch.
func (p Patch) Validate() error {
	if p.From != nil {
		if err := validateLocation(FieldFrom, *p.From); err != nil {
			return err
		}
	}
	if p.To != nil {
		if err := validateLocation(FieldTo, *p.To); err != nil {
			return err
		}
	}
	if p.Capacity != nil {
		if err := validateCapacity(*p.Capacity); err != nil {
			return err
		}
	}
	if p.TimeRange != nil {
		if err := ValidateText(FieldTimeRange, *p.TimeRange); err != nil {
			return err
		}
	}
	if p.Comment != nil {
		if err := ValidateText(FieldComment, *p.Comment); err != nil {
			return err
		}
	}
	if p.Status != nil && !p.Status.Valid() {
		return invalid(FieldStatus, "must be one of active, cancelled, expired")
	}
	return nil
}

// Apply copies the patched fields onto r. Callers validate first.
func (p Patch) Apply(r *Ride) {
	if p.From != nil {
		r.From = strings.TrimSpace(*p.From)
	}
	if p.To != nil {
		r.To = strings.TrimSpace(*p.To)
	}
	if p.Capacity != nil {
		r.Capacity = *p.Capacity
	}
	if p.TimeRange != nil {
		r.TimeRange = strings.TrimSpace(*p.TimeRange)
	}
	if p.Comment != nil {
		r.Comment = strings.TrimSpace(*p.Comment)
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
}

// Store is the durable contract for ride records.
//
// Update and Delete return false, without an error, when the ride does not exist
// or belongs to somebody else; the two cases are deliberately indistinguishable.
// Concurrent writes to the same ride are linearized by the implementation.
type Store interface {
	Create(ctx context.Context, n NewRide) (string, error)
	Update(ctx context.Context, ownerID int64, rideID string, p Patch) (bool, error)
	Fetch(ctx context.Context, ownerID int64, activeOnly bool) ([]Ride, error)
	Delete(ctx context.Context, ownerID int64, rideID string, deactivateOnly bool) (bool, error)
	// ExpireBefore marks active rides created before cutoff as expired and returns them.
	ExpireBefore(ctx context.Context, cutoff time.Time) ([]Ride, error)
}

// ValidateText checks a single free-text field: locations must be non-empty
// and every field must fit its length limit.
func ValidateText(field, v string) error {
	switch field {
	case FieldFrom, FieldTo:
		return validateLocation(field, v)
	case FieldTimeRange:
		return validateLength(field, v, MaxTimeRangeLen)
	case FieldComment:
		return validateLength(field, v, MaxCommentLen)
	}
	return nil
}

func validateLocation(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return invalid(field, "must not be empty")
	}
	return validateLength(field, v, MaxLocationLen)
}

func validateOptional(timeRange, comment string) error {
	if err := ValidateText(FieldTimeRange, timeRange); err != nil {
		return err
	}
	return ValidateText(FieldComment, comment)
}

func validateLength(field, v string, limit int) error {
	if utf8.RuneCountInString(strings.TrimSpace(v)) > limit {
		return invalid(field, fmt.Sprintf("must be at most %d characters", limit))
	}
	return nil
}

func validateCapacity(n int) error {
	if n < 1 {
		return invalid(FieldCapacity, "must be a whole number of at least 1")
	}
	return nil
}
