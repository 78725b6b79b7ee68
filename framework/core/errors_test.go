package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameworkError_IsMatchesByCode(t *testing.T) {
	err := NewError(ErrNotFound, "product 42 not found")

	assert.True(t, errors.Is(err, NewError(ErrNotFound, "")))
	assert.False(t, errors.Is(err, NewError(ErrValidationFailed, "")))
}

func TestFrameworkError_WrappedChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("load product: %w", Wrap(cause, ErrPersistenceFailed, "query failed"))

	assert.True(t, IsCode(err, ErrPersistenceFailed))
	assert.Equal(t, ErrPersistenceFailed, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "query failed", MessageOf(err))
}

func TestWrap_NilError(t *testing.T) {
	if Wrap(nil, ErrNotFound, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapWithCode(nil, ErrNotFound) != nil {
		t.Error("WrapWithCode(nil) should return nil")
	}
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.False(t, IsCode(nil, ErrNotFound))
}

func TestFrameworkError_Format(t *testing.T) {
	err := Errorf(ErrValidationFailed, "quantity must be greater than %d", 0)
	assert.Equal(t, "[VALIDATION_FAILED] quantity must be greater than 0", err.Error())

	withCause := Wrap(errors.New("boom"), ErrPersistenceFailed, "insert")
	assert.Equal(t, "[PERSISTENCE_FAILED] insert: boom", withCause.Error())

	ctxErr := err.WithContext("add inventory")
	assert.Equal(t, ErrValidationFailed, ctxErr.Code)
	assert.Equal(t, "add inventory: quantity must be greater than 0", ctxErr.Message)
}
