// Package validation provides request validation helpers for the threatscore API.
package validation

import (
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum JSON request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxUsernameLength bounds usernames stored in the activity log.
const MaxUsernameLength = 64

// usernameRegex accepts account names and email-style logins.
var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@+-]*$`)

// RequestSizeMiddleware limits request body size. Routes listed in exempt
// (gin route patterns) enforce their own limit.
func RequestSizeMiddleware(maxSize int64, exempt ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(exempt, c.FullPath()) {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}
		c.Next()
	}
}

// IsValidUsername checks the activity log's username format.
func IsValidUsername(s string) bool {
	return len(s) <= MaxUsernameLength && usernameRegex.MatchString(s)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidUsername checks the username format; empty values are left to Required.
func ValidUsername(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidUsername(value) {
			return &ValidationError{Field: field, Message: "must be 1-64 characters of letters, digits and . _ @ + -"}
		}
		return nil
	}
}
