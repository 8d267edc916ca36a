package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_IsMatchesWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("verify: %w", ErrInvalidCode)
	assert.True(t, errors.Is(err, ErrInvalidCode))
	assert.False(t, errors.Is(err, ErrNotParticipant), "same code, different message")
	assert.Equal(t, CodePermissionDenied, CodeOf(err))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrSessionNotFound, http.StatusNotFound},
		{ErrNotParticipant, http.StatusForbidden},
		{ErrRequestResolved, http.StatusConflict},
		{ErrActiveChatExists, http.StatusConflict},
		{ErrCodeLength, http.StatusBadRequest},
		{Unauthenticated("no token"), http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
		{Internal("db", errors.New("x")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), "status for %v", tc.err)
	}
}

func TestPublicMessage_HidesInternalCause(t *testing.T) {
	assert.Equal(t, "internal error", PublicMessage(Internal("load chat", errors.New("pq: connection refused"))))
	assert.Equal(t, "chat not found", PublicMessage(ErrSessionNotFound))
	assert.Equal(t, "internal error", PublicMessage(errors.New("raw")))
}
