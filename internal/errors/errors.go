package errors

import "fmt"

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeConfig        ErrCode = "CONFIG_ERROR"
	ErrCodeUsage         ErrCode = "USAGE_ERROR"
	ErrCodeExtract       ErrCode = "EXTRACT_ERROR"
	ErrCodeMissingOutput ErrCode = "MISSING_OUTPUT"
	ErrCodeAPI           ErrCode = "API_ERROR"
	ErrCodeNotFound      ErrCode = "NOT_FOUND"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeConfig,
		Message: message,
	}
}

// NewUsageError creates a new usage error
func NewUsageError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeUsage,
		Message: message,
	}
}

// NewExtractError creates a new extraction step error
func NewExtractError(step string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeExtract,
		Message: fmt.Sprintf("extraction step %s failed", step),
		Err:     err,
	}
}

// NewMissingOutputError creates an error for a job that exited clean without writing its file
func NewMissingOutputError(job, path string) *AppError {
	return &AppError{
		Code:    ErrCodeMissingOutput,
		Message: fmt.Sprintf("job %s reported success but %s does not exist", job, path),
	}
}

// NewAPIError creates a new external API error
func NewAPIError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeAPI,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// IsConfigError checks if the error is a configuration error
func IsConfigError(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == ErrCodeConfig
	}
	return false
}

// IsMissingOutput checks if the error is a missing output error
func IsMissingOutput(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == ErrCodeMissingOutput
	}
	return false
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}
