package errors

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/recordbase/recordbase/internal/pkg/log"
)

// Record service specific errors
var (
	ErrRecordNotFound     = errors.New("record not found")
	ErrInvalidRequestBody = errors.New("invalid request body")
	ErrInvalidFilter      = errors.New("invalid filter expression")
	ErrInvalidSet         = errors.New("invalid set expression")
)

// Error names as they appear in the response envelope.
const (
	NameNotFound          = "NotFoundError"
	NameValidation        = "ValidationError"
	NameInvalidKind       = "InvalidKindError"
	NameImmutableField    = "ImmutableFieldError"
	NameUniqueness        = "UniquenessViolationError"
	NameLimitExceeded     = "LimitExceededError"
	NameBadRequest        = "BadRequestError"
	NameInternal          = "InternalServerError"
)

// Error codes
const (
	CodeNotFound       = "RECORD_NOT_FOUND"
	CodeValidation     = "VALIDATION_FAILED"
	CodeInvalidKind    = "INVALID_KIND"
	CodeImmutableField = "IMMUTABLE_FIELD"
	CodeUniqueness     = "UNIQUENESS_VIOLATION"
	CodeLimitExceeded  = "RECORD_LIMIT_EXCEEDED"
	CodeBadRequest     = "BAD_REQUEST"
	CodeInternal       = "INTERNAL_ERROR"
)

// Detail is one structured entry of an error's details array.
type Detail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Info    map[string]interface{} `json:"info,omitempty"`
}

// RecordError carries everything the uniform error envelope needs.
type RecordError struct {
	StatusCode int
	Name       string
	Code       string
	Message    string
	Details    []Detail
	Cause      error
}

func (e *RecordError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RecordError) Unwrap() error {
	return e.Cause
}

// NewNotFound reports an unknown record id.
func NewNotFound(message string) *RecordError {
	return &RecordError{StatusCode: fiber.StatusNotFound, Name: NameNotFound, Code: CodeNotFound, Message: message}
}

// NewValidation reports a malformed or incomplete payload.
func NewValidation(message string) *RecordError {
	return &RecordError{StatusCode: fiber.StatusUnprocessableEntity, Name: NameValidation, Code: CodeValidation, Message: message}
}

// NewInvalidKind reports a kind outside the family's allow-list.
func NewInvalidKind(kind string) *RecordError {
	return &RecordError{
		StatusCode: fiber.StatusUnprocessableEntity,
		Name:       NameInvalidKind,
		Code:       CodeInvalidKind,
		Message:    fmt.Sprintf("kind '%s' is not allowed for this record family", kind),
	}
}

// NewImmutableField reports an attempt to change a write-once field.
func NewImmutableField(field string) *RecordError {
	return &RecordError{
		StatusCode: fiber.StatusUnprocessableEntity,
		Name:       NameImmutableField,
		Code:       CodeImmutableField,
		Message:    fmt.Sprintf("field '%s' is immutable and cannot be changed", field),
	}
}

// NewUniqueness reports a field-combination conflict with an existing record.
func NewUniqueness(fields []string) *RecordError {
	return &RecordError{
		StatusCode: fiber.StatusConflict,
		Name:       NameUniqueness,
		Code:       CodeUniqueness,
		Message:    "a record with the same unique field values already exists",
		Details: []Detail{{
			Code:    CodeUniqueness,
			Message: "duplicate field combination",
			Info:    map[string]interface{}{"fields": fields},
		}},
	}
}

// NewLimitExceeded reports a record-count ceiling hit, naming the offending
// scope and limit in details.
func NewLimitExceeded(scope string, limit int64) *RecordError {
	return &RecordError{
		StatusCode: fiber.StatusTooManyRequests,
		Name:       NameLimitExceeded,
		Code:       CodeLimitExceeded,
		Message:    fmt.Sprintf("record limit of %d exceeded", limit),
		Details: []Detail{{
			Code:    CodeLimitExceeded,
			Message: "record count ceiling reached",
			Info:    map[string]interface{}{"scope": scope, "limit": limit},
		}},
	}
}

// NewBadRequest reports an unparseable body or query string.
func NewBadRequest(message string) *RecordError {
	return &RecordError{StatusCode: fiber.StatusBadRequest, Name: NameBadRequest, Code: CodeBadRequest, Message: message}
}

// envelope is the uniform error response body.
type envelope struct {
	Error envelopeBody `json:"error"`
}

type envelopeBody struct {
	StatusCode int      `json:"statusCode"`
	Name       string   `json:"name"`
	Message    string   `json:"message"`
	Code       string   `json:"code"`
	Status     int      `json:"status"`
	Details    []Detail `json:"details,omitempty"`
}

// Respond writes err as the uniform envelope. Unknown errors become 500s;
// their cause is logged, not leaked.
func Respond(c *fiber.Ctx, err error) error {
	var re *RecordError
	if !errors.As(err, &re) {
		log.Error("unhandled record error: %s", err.Error())
		re = &RecordError{
			StatusCode: fiber.StatusInternalServerError,
			Name:       NameInternal,
			Code:       CodeInternal,
			Message:    "internal server error",
			Cause:      err,
		}
	}

	return c.Status(re.StatusCode).JSON(envelope{Error: envelopeBody{
		StatusCode: re.StatusCode,
		Name:       re.Name,
		Message:    re.Message,
		Code:       re.Code,
		Status:     re.StatusCode,
		Details:    re.Details,
	}})
}
