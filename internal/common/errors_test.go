package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-kasir/internal/common"
)

func TestFieldErrorsFromJoinedErrors(t *testing.T) {
	err := errors.Join(
		common.NewValidationError("vat_rate", "must be between 0 and 100"),
		fmt.Errorf("wrapped: %w", common.NewValidationError("discount_rate", "must be between 0 and 100")),
		common.FieldErrors{"items": {"backend says no"}},
		errors.New("plain failure"),
	)

	fields := common.FieldErrorsFrom(err)
	require.Equal(t, []string{"must be between 0 and 100"}, fields["vat_rate"])
	require.Equal(t, []string{"must be between 0 and 100"}, fields["discount_rate"])
	require.Equal(t, []string{"backend says no"}, fields["items"])
	require.Equal(t, []string{"plain failure"}, fields[common.GeneralField])
}

func TestFieldErrorsMergeAndString(t *testing.T) {
	f := common.FieldErrors{}
	require.True(t, f.Empty())
	f.Add("b", "second")
	f.Merge(common.FieldErrors{"a": {"first"}, "b": {"third"}})
	require.Equal(t, "a: first; b: second, third", f.Error())
}

func TestWriteAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	common.WriteAppError(rec, fmt.Errorf("ctx: %w", common.NewAppError("CONFLICT", "busy", http.StatusConflict, nil)))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.JSONEq(t, `{"error":{"code":"CONFLICT","message":"busy"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	common.WriteAppError(rec, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestASCIIDigits(t *testing.T) {
	require.Equal(t, "2024-01-05", common.ASCIIDigits("২০২৪-০১-০৫"))
	require.Equal(t, 42, common.AtoiDefault(common.ASCIIDigits("৪২"), 0))
	require.Equal(t, 7, common.AtoiDefault("x", 7))
}
