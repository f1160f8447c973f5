package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode classifies database errors
type ErrorCode int

const (
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeSchema          ErrorCode = 1001
	ErrCodeFieldConversion ErrorCode = 1002
	ErrCodeSharding        ErrorCode = 1003
	ErrCodeTableNotFound   ErrorCode = 1004

	// Storage errors
	ErrCodeBackend ErrorCode = 2000
	ErrCodeMerge   ErrorCode = 2001
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:              "ok",
	ErrCodeInvalidArgument: "invalid_argument",
	ErrCodeSchema:          "schema",
	ErrCodeFieldConversion: "field_conversion",
	ErrCodeSharding:        "sharding",
	ErrCodeTableNotFound:   "table_not_found",
	ErrCodeBackend:         "backend",
	ErrCodeMerge:           "merge",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", int(c))
}

// DatabaseError is a structured error with code and context
type DatabaseError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *DatabaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts the error to a gRPC status
func (e *DatabaseError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *DatabaseError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeFieldConversion:
		return codes.InvalidArgument
	case ErrCodeSharding, ErrCodeSchema:
		return codes.FailedPrecondition
	case ErrCodeTableNotFound:
		return codes.NotFound
	default:
		return codes.Internal
	}
}

// New creates a DatabaseError
func New(code ErrorCode, message string, cause error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *DatabaseError) WithDetail(key string, value interface{}) *DatabaseError {
	e.Details[key] = value
	return e
}

// InvalidArgument creates an error for invalid caller input
func InvalidArgument(message string, cause error) *DatabaseError {
	return New(ErrCodeInvalidArgument, message, cause)
}

// Schema creates an error for an invalid table definition or schema
func Schema(message string, cause error) *DatabaseError {
	return New(ErrCodeSchema, message, cause)
}

// Sharding creates an error for records or criteria that do not select one user of a split table
func Sharding(table, message string) *DatabaseError {
	return New(ErrCodeSharding, message, nil).WithDetail("table", table)
}

// TableNotFound creates an error for an unknown table
func TableNotFound(table string) *DatabaseError {
	return New(ErrCodeTableNotFound, fmt.Sprintf("table not found: %s", table), nil).
		WithDetail("table", table)
}

// FieldConversion creates an error for a field value that cannot be converted
func FieldConversion(field string, cause error) *DatabaseError {
	return New(ErrCodeFieldConversion, fmt.Sprintf("invalid value for field %q", field), cause).
		WithDetail("field", field)
}

// Backend creates an error for a failed storage backend call
func Backend(message string, cause error) *DatabaseError {
	return New(ErrCodeBackend, message, cause)
}

// Merge creates an error for a failed action merge
func Merge(message string, cause error) *DatabaseError {
	return New(ErrCodeMerge, message, cause)
}

// IsDatabaseError checks if err wraps a DatabaseError
func IsDatabaseError(err error) bool {
	var de *DatabaseError
	return errors.As(err, &de)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var de *DatabaseError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeBackend
}

// IsSchema and the helpers below report whether err carries the code of
// their kind.
func IsSchema(err error) bool          { return hasCode(err, ErrCodeSchema) }
func IsSharding(err error) bool        { return hasCode(err, ErrCodeSharding) }
func IsTableNotFound(err error) bool   { return hasCode(err, ErrCodeTableNotFound) }
func IsFieldConversion(err error) bool { return hasCode(err, ErrCodeFieldConversion) }
func IsMerge(err error) bool           { return hasCode(err, ErrCodeMerge) }

func hasCode(err error, code ErrorCode) bool {
	var de *DatabaseError
	return errors.As(err, &de) && de.Code == code
}

// Wrap returns err unchanged if it already is a DatabaseError, otherwise
// it wraps it as a backend error.
func Wrap(message string, err error) error {
	if err == nil {
		return nil
	}
	if IsDatabaseError(err) {
		return err
	}
	return Backend(message, err)
}
