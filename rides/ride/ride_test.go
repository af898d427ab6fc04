package ride

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRideValidate(t *testing.T) {
	tests := []struct {
		name  string
		in    NewRide
		field string
	}{
		{name: "valid", in: NewRide{From: "Vake", To: "Airport", Capacity: 3}},
		{name: "empty from", in: NewRide{From: "", To: "Airport", Capacity: 1}, field: FieldFrom},
		{name: "blank to", in: NewRide{From: "Vake", To: "   ", Capacity: 1}, field: FieldTo},
		{name: "zero capacity", in: NewRide{From: "Vake", To: "Airport", Capacity: 0}, field: FieldCapacity},
		{name: "negative capacity", in: NewRide{From: "Vake", To: "Airport", Capacity: -2}, field: FieldCapacity},
		{name: "long from", in: NewRide{From: strings.Repeat("a", MaxLocationLen+1), To: "B", Capacity: 1}, field: FieldFrom},
		{name: "long time range", in: NewRide{From: "A", To: "B", Capacity: 1, TimeRange: strings.Repeat("1", MaxTimeRangeLen+1)}, field: FieldTimeRange},
		{name: "long comment", in: NewRide{From: "A", To: "B", Capacity: 1, Comment: strings.Repeat("ж", MaxCommentLen+1)}, field: FieldComment},
		{name: "comment at limit", in: NewRide{From: "A", To: "B", Capacity: 1, Comment: strings.Repeat("ж", MaxCommentLen)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Normalize().Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			ve, ok := AsValidation(err)
			require.True(t, ok, "expected validation error, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestPatchValidateAndApply(t *testing.T) {
	zero := 0
	blank := " "
	bogus := Status("archived")
	assert.Error(t, Patch{Capacity: &zero}.Validate())
	assert.Error(t, Patch{To: &blank}.Validate())
	assert.Error(t, Patch{Status: &bogus}.Validate())
	long := strings.Repeat("c", MaxCommentLen+1)
	ve, ok := AsValidation(Patch{Comment: &long}.Validate())
	require.True(t, ok)
	assert.Equal(t, FieldComment, ve.Field)
	assert.Contains(t, ve.Reason, "at most")
	assert.True(t, Patch{}.Empty())

	four := 4
	from := "  Saburtalo "
	cancelled := StatusCancelled
	p := Patch{From: &from, Capacity: &four, Status: &cancelled}
	require.NoError(t, p.Validate())
	assert.False(t, p.Empty())

	r := Ride{ID: "r1", OwnerID: 7, From: "Vake", To: "Airport", Capacity: 1, Status: StatusActive}
	p.Apply(&r)
	assert.Equal(t, "Saburtalo", r.From)
	assert.Equal(t, "Airport", r.To)
	assert.Equal(t, 4, r.Capacity)
	assert.Equal(t, StatusCancelled, r.Status)
	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, int64(7), r.OwnerID)
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus(" Cancelled ")
	assert.True(t, ok)
	assert.Equal(t, StatusCancelled, s)

	_, ok = ParseStatus("done")
	assert.False(t, ok)
}

func TestStorageWrapping(t *testing.T) {
	assert.NoError(t, Storage("create", nil))

	base := errors.New("connection refused")
	err := fmt.Errorf("create ride: %w", Storage("create", base))
	assert.True(t, IsStorage(err))
	assert.ErrorIs(t, err, base)
	assert.Same(t, errors.Unwrap(err), Storage("create", errors.Unwrap(err)))

	_, ok := AsValidation(err)
	assert.False(t, ok)
}
