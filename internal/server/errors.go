package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	readingdomain "github.com/smallbiznis/micoriza/internal/reading/domain"
	"github.com/smallbiznis/micoriza/internal/reading/liveevents"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// newValidationError reports a request parameter outside the reading body.
func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, validationPayload(vErr.Errors)
	}

	if isValidationError(err) {
		return http.StatusBadRequest, validationPayload([]ValidationError{readingValidationError(err)})
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, liveevents.ErrHubUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func validationPayload(errs []ValidationError) errorPayload {
	return errorPayload{
		Type:    "validation_error",
		Message: "validation error",
		Errors:  errs,
	}
}

// classifyErrorForLog returns the error type and code attached to request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if vErr := asValidationErrors(err); vErr != nil {
		if len(vErr.Errors) > 0 {
			return "validation_error", vErr.Errors[0].Code
		}
		return "validation_error", "invalid_request"
	}
	if isValidationError(err) {
		return "validation_error", readingValidationError(err).Code
	}

	var storageErr *readingdomain.StorageError
	switch {
	case errors.As(err, &storageErr):
		return "storage_error", storageErr.Op
	case isNotFoundError(err):
		return "not_found", "not_found"
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, liveevents.ErrHubUnavailable):
		return "service_unavailable", "service_unavailable"
	default:
		return "internal_error", "internal_error"
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	return readingdomain.IsInvalidInput(err)
}

func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// readingValidationError renders a reading validation failure. Batch failures carry the
// element index in the field path.
func readingValidationError(err error) ValidationError {
	code := validationErrorCode(err)
	field := readingdomain.FieldOf(err)

	var invalid *readingdomain.InvalidReadingError
	if errors.As(err, &invalid) {
		if field == "" {
			field = fmt.Sprintf("readings[%d]", invalid.Index)
		} else {
			field = fmt.Sprintf("readings[%d].%s", invalid.Index, field)
		}
	}
	if field == "" {
		field = "request"
	}

	return ValidationError{
		Field:   field,
		Code:    code,
		Message: validationErrorMessage(code),
	}
}

func validationErrorCode(err error) string {
	for _, target := range []error{
		readingdomain.ErrInvalidDeviceName,
		readingdomain.ErrInvalidSensorName,
		readingdomain.ErrInvalidValue,
		readingdomain.ErrInvalidReadAt,
		readingdomain.ErrBatchTooLarge,
		readingdomain.ErrInvalidGroupBy,
		readingdomain.ErrInvalidTimeRange,
		readingdomain.ErrInvalidFrom,
		readingdomain.ErrInvalidTo,
		readingdomain.ErrInvalidPayload,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "invalid_request"
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_device_name":
		return "deviceName must be a non-empty string"
	case "invalid_sensor_name":
		return "sensorName must be a non-empty string"
	case "invalid_value":
		return "value must be a number"
	case "invalid_read_at":
		return "readAt must be an RFC 3339 timestamp"
	case "batch_too_large":
		return "too many readings in one request"
	case "invalid_group_by":
		return "groupBy must be one of none, hour, day"
	case "invalid_time_range":
		return "from must not be after to"
	case "invalid_from":
		return "from must be an RFC 3339 timestamp or YYYY-MM-DD"
	case "invalid_to":
		return "to must be an RFC 3339 timestamp or YYYY-MM-DD"
	case "invalid_payload":
		return "body must be a reading object or an array of readings"
	default:
		return "invalid request"
	}
}
