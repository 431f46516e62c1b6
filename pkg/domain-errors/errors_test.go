package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCodeThroughWrapping(t *testing.T) {
	base := New(CodeConflict, "stale")
	wrapped := fmt.Errorf("update: %w", base)

	assert.True(t, HasCode(wrapped, CodeConflict))
	assert.False(t, HasCode(wrapped, CodeNotFound))
	assert.False(t, HasCode(errors.New("plain"), CodeConflict))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeInternal, "failed to load document")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStatusAndNumericMapping(t *testing.T) {
	cases := []struct {
		code    Code
		status  int
		numeric int
	}{
		{CodeInvalidKey, http.StatusBadRequest, 1001},
		{CodeNotFound, http.StatusNotFound, 1002},
		{CodeAlreadyExists, http.StatusConflict, 1003},
		{CodeUnauthorized, http.StatusUnauthorized, 1004},
		{CodeConflict, http.StatusConflict, 1005},
		{CodeInvariantViolation, http.StatusUnprocessableEntity, 1006},
		{CodeTerminalState, http.StatusGone, 1007},
		{CodeGatewayUnavailable, http.StatusServiceUnavailable, 1008},
		{CodeInternal, http.StatusInternalServerError, 1000},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.status, HTTPStatus(tc.code))
			assert.Equal(t, tc.numeric, Numeric(tc.code))
			assert.Equal(t, tc.code, FromNumeric(tc.numeric))
		})
	}
}

func TestFromNumericUnknownIsInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, FromNumeric(4242))
}
