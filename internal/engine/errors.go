package engine

import (
	"errors"
	"fmt"

	"tabular/internal/schema"
	"tabular/internal/store"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  404,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

func UnknownRelationshipError(entity, name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_RELATIONSHIP",
		Status:  404,
		Message: fmt.Sprintf("Unknown relationship %s on %s", name, entity),
	}
}

func UnknownActionError(entity, key string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ACTION",
		Status:  404,
		Message: fmt.Sprintf("Unknown action %s on %s", key, entity),
	}
}

// ConfigurationError is fatal for the entity's operations until the schema
// document is corrected.
func ConfigurationError(msg string) *AppError {
	return &AppError{Code: "CONFIGURATION", Status: 500, Message: msg}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func ConflictError(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: 409, Message: msg}
}

// mapSchemaError converts schema-layer sentinels into the HTTP error
// taxonomy: unknown entity is a 404, a malformed document is a configuration
// failure.
func mapSchemaError(err error, entityName string) error {
	switch {
	case errors.Is(err, schema.ErrNotFound):
		return UnknownEntityError(entityName)
	case errors.Is(err, schema.ErrInvalid):
		return ConfigurationError(err.Error())
	default:
		return err
	}
}

// mapWriteError converts storage-layer failures on the write path.
func mapWriteError(err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	mapped := store.MapError(err)
	if errors.Is(mapped, store.ErrUniqueViolation) {
		return ConflictError("A record with this value already exists")
	}
	return err
}
