package router

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type codedError struct{ code string }

func (e codedError) Error() string { return "coded" }
func (e codedError) Code() string  { return e.code }

type storageFailure struct{}

func (*storageFailure) Error() string { return "storage" }

func TestDeriveErrorCode(t *testing.T) {
	assert.Equal(t, "", deriveErrorCode(nil))
	assert.Equal(t, "RIDE_NOT_FOUND", deriveErrorCode(fmt.Errorf("wrap: %w", codedError{code: "ride not found"})))
	assert.Equal(t, "STORAGEFAILURE", deriveErrorCode(&storageFailure{}))
	assert.Equal(t, "ERRORSTRING", deriveErrorCode(errors.New("x")))
}

func TestNormalizeHandlerName(t *testing.T) {
	assert.Equal(t, "list_all", normalizeHandlerName("/List_All"))
	assert.Equal(t, "unknown", normalizeHandlerName("  "))
}
