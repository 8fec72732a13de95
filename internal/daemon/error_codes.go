package daemon

import (
	"errors"
	"net/http"
	"strings"

	"github.com/boostd/boostd/internal/dispatch"
)

const daemonErrorCodeVersion = "v1"

const (
	// Validation domain
	daemonErrorCodeValidationBadRequest     = daemonErrorCodeVersion + "/validation/bad_request"
	daemonErrorCodeValidationMalformedJSON  = daemonErrorCodeVersion + "/validation/malformed_json"
	daemonErrorCodeValidationMissingField   = daemonErrorCodeVersion + "/validation/missing_required_field"
	daemonErrorCodeValidationInvalidValue   = daemonErrorCodeVersion + "/validation/invalid_value"
	daemonErrorCodeValidationTooLarge       = daemonErrorCodeVersion + "/validation/request_too_large"
	daemonErrorCodeValidationLengthMismatch = daemonErrorCodeVersion + "/validation/length_mismatch"
	daemonErrorCodeValidationInvalidMode    = daemonErrorCodeVersion + "/validation/invalid_mode"

	// Request domain
	daemonErrorCodeRequestUnknownCommand  = daemonErrorCodeVersion + "/request/unknown_command"
	daemonErrorCodeRequestUnknownClient   = daemonErrorCodeVersion + "/request/unknown_client"
	daemonErrorCodeRequestUnknownResource = daemonErrorCodeVersion + "/request/unknown_resource"
	daemonErrorCodeRequestDisabled        = daemonErrorCodeVersion + "/request/boosting_disabled"

	// Generic fallbacks
	daemonErrorCodeResourceNotFound = daemonErrorCodeVersion + "/resource/not_found"
	daemonErrorCodeMethodNotAllowed = daemonErrorCodeVersion + "/resource/method_not_allowed"
	daemonErrorCodeInternalError    = daemonErrorCodeVersion + "/internal/error"
	daemonErrorCodeServerError      = daemonErrorCodeVersion + "/internal/server_error"
	daemonErrorCodeUnavailable      = daemonErrorCodeVersion + "/internal/unavailable"
)

var requestErrorCodes = []struct {
	kind error
	code string
}{
	{dispatch.ErrUnknownCommand, daemonErrorCodeRequestUnknownCommand},
	{dispatch.ErrLengthMismatch, daemonErrorCodeValidationLengthMismatch},
	{dispatch.ErrUnknownClient, daemonErrorCodeRequestUnknownClient},
	{dispatch.ErrUnknownResource, daemonErrorCodeRequestUnknownResource},
	{dispatch.ErrValueOutOfDomain, daemonErrorCodeValidationInvalidValue},
	{dispatch.ErrInvalidMode, daemonErrorCodeValidationInvalidMode},
	{dispatch.ErrDisabled, daemonErrorCodeRequestDisabled},
	{dispatch.ErrRequestTooLarge, daemonErrorCodeValidationTooLarge},
}

// daemonErrorCode picks a stable code for an error response. Dispatcher
// rejections map by kind; everything else falls back to the message and
// then the status.
func daemonErrorCode(status int, message string, err error) string {
	if err != nil {
		for _, rc := range requestErrorCodes {
			if errors.Is(err, rc.kind) {
				return rc.code
			}
		}
	}
	normalized := strings.TrimSpace(strings.ToLower(message))
	if normalized != "" {
		if code := daemonErrorCodeFromMessage(status, normalized); code != "" {
			return code
		}
	}
	return daemonErrorCodeByStatus(status)
}

func daemonErrorCodeFromMessage(status int, normalized string) string {
	switch {
	case strings.Contains(normalized, "request body is required"):
		return daemonErrorCodeValidationMissingField
	case strings.Contains(normalized, "invalid request body"):
		return daemonErrorCodeValidationMalformedJSON
	case strings.Contains(normalized, "unexpected trailing data"):
		return daemonErrorCodeValidationMalformedJSON
	case strings.Contains(normalized, "request body too large"):
		return daemonErrorCodeValidationTooLarge
	case strings.Contains(normalized, "is required") || strings.Contains(normalized, "must be set"):
		return daemonErrorCodeValidationMissingField
	case strings.Contains(normalized, "invalid value") || strings.Contains(normalized, "must be"):
		return daemonErrorCodeValidationInvalidValue
	case strings.Contains(normalized, "not found"):
		return daemonErrorCodeResourceNotFound
	case strings.Contains(normalized, "unavailable"):
		if status >= http.StatusInternalServerError {
			return daemonErrorCodeUnavailable
		}
	}
	return ""
}

func daemonErrorCodeByStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return daemonErrorCodeValidationBadRequest
	case http.StatusNotFound:
		return daemonErrorCodeResourceNotFound
	case http.StatusMethodNotAllowed:
		return daemonErrorCodeMethodNotAllowed
	case http.StatusInternalServerError:
		return daemonErrorCodeServerError
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusBadGateway:
		return daemonErrorCodeUnavailable
	default:
		if status >= http.StatusInternalServerError {
			return daemonErrorCodeServerError
		}
	}
	return daemonErrorCodeInternalError
}
