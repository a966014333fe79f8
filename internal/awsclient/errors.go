package awsclient

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
)

var accessDeniedCodes = map[string]bool{
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"UnauthorizedOperation":       true,
	"UnrecognizedClientException": true,
	"InvalidClientTokenId":        true,
}

// ErrorCode returns the service error code carried by err, or ""
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsAccessDenied reports whether err is an authorization failure
func IsAccessDenied(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return accessDeniedCodes[apiErr.ErrorCode()] || strings.Contains(apiErr.ErrorMessage(), "not authorized to perform")
}

// IsCode reports whether err carries one of the given service error codes
func IsCode(err error, codes ...string) bool {
	code := ErrorCode(err)
	if code == "" {
		return false
	}
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}
