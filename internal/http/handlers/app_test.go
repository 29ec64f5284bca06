package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"studio/internal/domain"
)

func TestFail_MapsDomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &domain.ValidationError{Reason: "blocked"}, http.StatusUnprocessableEntity, "validation_failed"},
		{"incomplete", fmt.Errorf("%w: missing stage", domain.ErrIncompleteSession), http.StatusUnprocessableEntity, "incomplete_session"},
		{"contention", domain.ErrLockContention, http.StatusConflict, "generation_in_progress"},
		{"nothing to retry", domain.ErrNothingToRetry, http.StatusConflict, "nothing_to_retry"},
		{"quota", fmt.Errorf("%w: resets in 3h", domain.ErrQuotaExceeded), http.StatusTooManyRequests, "quota_exceeded"},
		{"not found", domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}

	app := &App{}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.fail(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"`+tc.code+`"`)
			if tc.status == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "disk on fire")
			}
		})
	}
}
