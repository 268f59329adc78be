package errors

import "net/http"

// Error codes. Messages are English-only; clients key off Code.

// Preference error codes.
const (
	CodePreferenceNotFound = "PREFERENCE_NOT_FOUND"
	CodePreferenceConflict = "PREFERENCE_CONFLICT"
	CodeUnknownCategory    = "UNKNOWN_CATEGORY"
	CodeInvalidChannel     = "INVALID_CHANNEL"
	CodeInvalidFrequency   = "INVALID_DIGEST_FREQUENCY"
	CodeInvalidClock       = "INVALID_TIME_OF_DAY"
	CodeInvalidTimezone    = "INVALID_TIMEZONE"
	CodeInvalidWeekday     = "INVALID_WEEKDAY"
)

// Notification error codes.
const (
	CodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	CodeDispatchFailed       = "DISPATCH_FAILED"
)

// Digest error codes.
const (
	CodeDigestFlushFailed = "DIGEST_FLUSH_FAILED"
)

// Auth error codes.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
)

// Validation error codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrPreferenceNotFoundf creates the error returned when an update or reset
// targets a user without a stored preference record.
func ErrPreferenceNotFoundf(userID string) *AppError {
	return (&AppError{
		Code:       CodePreferenceNotFound,
		Message:    "notification preference not found",
		HTTPStatus: http.StatusNotFound,
	}).WithParams(map[string]interface{}{"user_id": userID})
}

// ErrNotificationNotFoundf creates the error returned when a notification
// does not exist or does not belong to the caller.
func ErrNotificationNotFoundf(notificationID string) *AppError {
	return (&AppError{
		Code:       CodeNotificationNotFound,
		Message:    "notification not found",
		HTTPStatus: http.StatusNotFound,
	}).WithParams(map[string]interface{}{"notification_id": notificationID})
}

// ErrValidationf creates a validation error for a single field.
func ErrValidationf(code, field, message string) *AppError {
	return (&AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}).WithFieldErrors([]FieldError{{Field: field, Code: code, Message: message}})
}
