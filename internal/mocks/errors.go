package mocks

import "github.com/aws/smithy-go"

// APIError builds a service error carrying code
func APIError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message}
}
