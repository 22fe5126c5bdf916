package middleware

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// SanitizeString removes null bytes and control characters except newlines
// and tabs, then trims whitespace.
func SanitizeString(input string) string {
	input = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`).ReplaceAllString(input, "")
	return strings.TrimSpace(input)
}

// ValidateStruct runs validator tags on a bound payload.
func ValidateStruct(v interface{}) error {
	return validate.Struct(v)
}
