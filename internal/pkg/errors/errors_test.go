package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeNotificationNotFound, "notification not found", http.StatusNotFound),
			want: "NOTIFICATION_NOT_FOUND: notification not found",
		},
		{
			name: "with wrapped error",
			err:  Wrap(fmt.Errorf("db error"), CodeDispatchFailed, "canonical write failed", http.StatusInternalServerError),
			want: "DISPATCH_FAILED: canonical write failed: db error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap(inner, "CODE", "msg", 500)

	if !errors.Is(appErr, inner) {
		t.Error("errors.Is should match inner error")
	}
}

func TestIsAppErrorAndHasCode(t *testing.T) {
	appErr := ErrPreferenceNotFoundf("user-1")
	wrapped := fmt.Errorf("wrapped: %w", appErr)

	got, ok := IsAppError(wrapped)
	if !ok {
		t.Fatal("IsAppError should return true for wrapped AppError")
	}
	if got.Code != CodePreferenceNotFound {
		t.Errorf("Code = %q, want %q", got.Code, CodePreferenceNotFound)
	}
	if got.Params["user_id"] != "user-1" {
		t.Errorf("Params[user_id] = %v, want user-1", got.Params["user_id"])
	}
	if !HasCode(wrapped, CodePreferenceNotFound) {
		t.Error("HasCode() = false, want true")
	}
	if HasCode(fmt.Errorf("plain"), CodePreferenceNotFound) {
		t.Error("HasCode() on plain error = true, want false")
	}
}

func TestErrValidationf(t *testing.T) {
	err := ErrValidationf(CodeUnknownCategory, "preferences.billing", "unknown category")
	if err.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("HTTPStatus = %d, want 400", err.HTTPStatus)
	}
	if len(err.FieldErrors) != 1 || err.FieldErrors[0].Field != "preferences.billing" {
		t.Fatalf("FieldErrors = %+v", err.FieldErrors)
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantStatus int
	}{
		{"NotFound", NotFound("NF", "not found"), http.StatusNotFound},
		{"BadRequest", BadRequest("BR", "bad request"), http.StatusBadRequest},
		{"Unauthorized", Unauthorized("UA", "unauthorized"), http.StatusUnauthorized},
		{"Forbidden", Forbidden("FB", "forbidden"), http.StatusForbidden},
		{"Conflict", Conflict("CF", "conflict"), http.StatusConflict},
		{"Internal", Internal("IE", "internal"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus = %d, want %d", tt.err.HTTPStatus, tt.wantStatus)
			}
		})
	}
}
