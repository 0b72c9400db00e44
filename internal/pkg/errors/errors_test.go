package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithMessagePreservesCode(t *testing.T) {
	e := ErrInputInvalid.WithMessage("packages contain invalid characters")
	assert.Equal(t, "input_invalid", e.Code)
	assert.Equal(t, http.StatusBadRequest, e.StatusCode)
	assert.Equal(t, "packages contain invalid characters", e.Message)

	// The shared sentinel must not be mutated.
	assert.Equal(t, "Invalid request", ErrInputInvalid.Message)
}

func TestAsAPIError(t *testing.T) {
	assert.Equal(t, ErrConflict, AsAPIError(ErrConflict))
	assert.Equal(t, ErrInternal, AsAPIError(errors.New("boom")))
}

func TestNewConflictError(t *testing.T) {
	e := NewConflictError("job is assigned to another worker")
	assert.Equal(t, "conflict", e.Code)
	assert.Equal(t, http.StatusConflict, e.StatusCode)
}

func TestStatusCodes(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, ErrAuthFailed.StatusCode)
	assert.Equal(t, http.StatusBadGateway, ErrUpstream.StatusCode)
	assert.Equal(t, http.StatusInternalServerError, ErrStorage.StatusCode)
}
