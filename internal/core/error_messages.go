package core

// # Error Codes Reference
//
// This file maps technical errors to operator messages with codes. Codes are
// printed by the CLI and logged next to the technical error, so an operator
// can quote the code when reporting a failed run.
//
// # Configuration (CFG001)
//
//	CFG001 - Missing or invalid setting (device id, file path, credentials)
//	         Action: Check the environment or .env file
//	         Kind: ErrConfig
//
// # Authentication (AUTH001)
//
//	AUTH001 - The platform rejected the credentials or the token expired
//	          Action: Verify THINGSBOARD_USERNAME and THINGSBOARD_PASSWORD
//	          Kind: ErrAuth
//
// # Transport (NET001-NET002)
//
//	NET001 - The origin did not answer in time or returned an error status
//	         Action: The next cycle retries automatically
//	         Kind: ErrTransport, patterns "timeout", "deadline exceeded"
//
//	NET002 - Connection refused
//	         Action: Check host, port and that the service is running
//	         Patterns: "connection refused", "no such host"
//
// # Data (PRS001, NF001)
//
//	PRS001 - The file or response could not be parsed
//	         Action: Verify the file is a valid archive or export
//	         Kind: ErrParse
//
//	NF001 - The configured stream or entity was not found
//	        Action: Check STREAM_NAME and COMPONENT_ID
//	        Kind: ErrNotFound
//
// # Stores (WRT001)
//
//	WRT001 - The time-series store rejected the write
//	         Action: Check the store URL, token, bucket and org
//	         Kind: ErrWrite
//
// # Live sessions (LIVE001)
//
//	LIVE001 - No live automation session is attached
//	          Action: Start the simulator and attach a session
//	          Kind: ErrNotConnected
//
// # Default Error (UNK001)
//
//	UNK001 - Unexpected error; check the logs for the technical error
//
// Sentinel kinds other than ErrTransport are checked first with errors.Is.
// Transport errors and errors that wrap no kind fall back to case-insensitive
// substring patterns; the first match wins.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides operator-facing error information with guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Error code for reference
}

var kindMessages = []struct {
	kind error
	msg  UserMessage
}{
	{ErrConfig, UserMessage{
		Message: "Required configuration is missing or invalid",
		Action:  "Check the environment or .env file",
		Code:    "CFG001",
	}},
	{ErrAuth, UserMessage{
		Message: "Authentication with the telemetry platform failed",
		Action:  "Verify THINGSBOARD_USERNAME and THINGSBOARD_PASSWORD",
		Code:    "AUTH001",
	}},
	{ErrNotConnected, UserMessage{
		Message: "No live automation session is attached",
		Action:  "Start the simulator and attach a session",
		Code:    "LIVE001",
	}},
	{ErrParse, UserMessage{
		Message: "The source data could not be parsed",
		Action:  "Verify the file is a valid archive or export",
		Code:    "PRS001",
	}},
	{ErrNotFound, UserMessage{
		Message: "The configured stream was not found",
		Action:  "Check STREAM_NAME and COMPONENT_ID",
		Code:    "NF001",
	}},
	{ErrWrite, UserMessage{
		Message: "The time-series store rejected the write",
		Action:  "Check the store URL, token, bucket and org",
		Code:    "WRT001",
	}},
}

// errorPattern defines a pattern to match and its corresponding message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are matched against the lowercased error text.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Connection refused",
			Action:  "Check host, port and that the service is running",
			Code:    "NET002",
		},
	},
	{
		pattern: "no such host",
		msg: UserMessage{
			Message: "Host could not be resolved",
			Action:  "Check host, port and that the service is running",
			Code:    "NET002",
		},
	},
	{
		pattern: "deadline exceeded",
		msg:     netTimeout,
	},
	{
		pattern: "timeout",
		msg:     netTimeout,
	},
}

var netTimeout = UserMessage{
	Message: "The origin did not answer in time",
	Action:  "The next cycle retries automatically",
	Code:    "NET001",
}

var transportMessage = UserMessage{
	Message: "The origin returned an error",
	Action:  "The next cycle retries automatically",
	Code:    "NET001",
}

// defaultMessage is returned when nothing matches (UNK001).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for details",
	Code:    "UNK001",
}

// MapError converts a technical error to an operator message.
//
// Example:
//
//	err := fmt.Errorf("%w: DEVICE_ID is not set", ErrConfig)
//	msg := MapError(err)
//	// msg.Code == "CFG001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, km := range kindMessages {
		if errors.Is(err, km.kind) {
			return km.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if errors.Is(err, ErrTransport) {
		return transportMessage
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than the
// UNK001 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
