package core

// error_messages.go maps failures to user-facing messages with support codes.
//
// Codes are grouped by error kind:
//
//	CONN001 - Database unreachable        (ConnectionError: refused, no such host)
//	CONN002 - Credentials rejected        (ConnectionError: authentication failed)
//	CONN003 - Connection timed out        (ConnectionError: timeout)
//	CONN000 - Connection failed           (any other ConnectionError)
//	FILE001 - File not found              (FileAccessError: no such file)
//	FILE002 - File not readable           (FileAccessError: permission denied)
//	FILE000 - File could not be read      (any other FileAccessError)
//	FILE003 - File is empty               (EmptyFileError)
//	IDENT001 - Unsafe identifier          (IdentifierError)
//	IDENT002 - Duplicate column           (IdentifierError: duplicate column)
//	SCHEMA001 - Permission denied         (SchemaError: permission denied)
//	SCHEMA000 - Table could not be prepared (any other SchemaError)
//	LOAD001 - Row has wrong column count  (LoadError: field count mismatch)
//	LOAD002 - Encoding mismatch           (LoadError: invalid byte sequence)
//	LOAD000 - Data could not be loaded    (any other LoadError)
//	TX001   - Commit or rollback failed   (TransactionError)
//	REQ001  - Invalid request             (RequestError)
//	RUN001  - Run cancelled               (CancelledError)
//	BUSY001 - Too many ingestions         (ErrTooManyRuns)
//	BUSY002 - Table is busy               (ErrTableBusy)
//	ERR000  - Unexpected error            (fallback)
//
// Within a kind the first matching pattern (case-insensitive substring of the
// error text) wins; the kind's fallback applies when none match.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Support reference
}

// errorPattern refines a kind's message when the error text contains pattern.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

type kindMessages struct {
	patterns []errorPattern
	fallback UserMessage
}

var messagesByKind = map[ErrorKind]kindMessages{
	KindConnection: {
		patterns: []errorPattern{
			{pattern: "password authentication failed", msg: UserMessage{
				Message: "The database rejected the credentials",
				Action:  "Check the user name and password and try again",
				Code:    "CONN002",
			}},
			{pattern: "access denied", msg: UserMessage{
				Message: "The database rejected the credentials",
				Action:  "Check the user name and password and try again",
				Code:    "CONN002",
			}},
			{pattern: "login failed", msg: UserMessage{
				Message: "The database rejected the credentials",
				Action:  "Check the user name and password and try again",
				Code:    "CONN002",
			}},
			{pattern: "connection refused", msg: UserMessage{
				Message: "Unable to reach the database",
				Action:  "Check the host and port, and that the server is running",
				Code:    "CONN001",
			}},
			{pattern: "no such host", msg: UserMessage{
				Message: "Unable to reach the database",
				Action:  "Check the host name",
				Code:    "CONN001",
			}},
			{pattern: "timeout", msg: UserMessage{
				Message: "Connecting to the database timed out",
				Action:  "Check network access to the server and try again",
				Code:    "CONN003",
			}},
			{pattern: "deadline exceeded", msg: UserMessage{
				Message: "Connecting to the database timed out",
				Action:  "Check network access to the server and try again",
				Code:    "CONN003",
			}},
		},
		fallback: UserMessage{
			Message: "Could not connect to the database",
			Action:  "Check the connection settings and try again",
			Code:    "CONN000",
		},
	},
	KindFileAccess: {
		patterns: []errorPattern{
			{pattern: "no such file", msg: UserMessage{
				Message: "The file does not exist",
				Action:  "Check the file path",
				Code:    "FILE001",
			}},
			{pattern: "cannot find the file", msg: UserMessage{
				Message: "The file does not exist",
				Action:  "Check the file path",
				Code:    "FILE001",
			}},
			{pattern: "permission denied", msg: UserMessage{
				Message: "The file cannot be read",
				Action:  "Check the file permissions",
				Code:    "FILE002",
			}},
		},
		fallback: UserMessage{
			Message: "The file could not be read",
			Action:  "Check that the path points to a readable delimited text file",
			Code:    "FILE000",
		},
	},
	KindEmptyFile: {
		fallback: UserMessage{
			Message: "The file is empty",
			Action:  "Provide a file whose first line is the header row",
			Code:    "FILE003",
		},
	},
	KindIdentifier: {
		patterns: []errorPattern{
			{pattern: "duplicate column", msg: UserMessage{
				Message: "The header repeats a column name",
				Action:  "Rename the duplicate columns in the header row",
				Code:    "IDENT002",
			}},
		},
		fallback: UserMessage{
			Message: "A table or column name contains characters that are not allowed",
			Action:  "Use only letters, digits and underscores, not starting with a digit",
			Code:    "IDENT001",
		},
	},
	KindSchema: {
		patterns: []errorPattern{
			{pattern: "permission denied", msg: UserMessage{
				Message: "Not allowed to create or truncate the table",
				Action:  "Ask for CREATE/TRUNCATE privileges on the schema",
				Code:    "SCHEMA001",
			}},
		},
		fallback: UserMessage{
			Message: "The table could not be prepared",
			Action:  "Check that the schema exists and the table name is not taken by another object",
			Code:    "SCHEMA000",
		},
	},
	KindLoad: {
		patterns: []errorPattern{
			{pattern: "wrong number of fields", msg: UserMessage{
				Message: "A row has a different number of columns than the header",
				Action:  "Fix the row named in the error and run again",
				Code:    "LOAD001",
			}},
			{pattern: "extra data after last expected column", msg: UserMessage{
				Message: "A row has more columns than the table",
				Action:  "Fix the row named in the error and run again",
				Code:    "LOAD001",
			}},
			{pattern: "missing data for column", msg: UserMessage{
				Message: "A row has fewer columns than the table",
				Action:  "Fix the row named in the error and run again",
				Code:    "LOAD001",
			}},
			{pattern: "doesn't contain data for all columns", msg: UserMessage{
				Message: "A row has fewer columns than the table",
				Action:  "Fix the row named in the error and run again",
				Code:    "LOAD001",
			}},
			{pattern: "was truncated", msg: UserMessage{
				Message: "A row has more columns than the table",
				Action:  "Fix the row named in the error and run again",
				Code:    "LOAD001",
			}},
			{pattern: "values were supplied", msg: UserMessage{
				Message: "A row has a different number of columns than the table",
				Action:  "Fix the row named in the error and run again",
				Code:    "LOAD001",
			}},
			{pattern: "invalid byte sequence", msg: UserMessage{
				Message: "The file is not in the expected character encoding",
				Action:  "Save the file as UTF-8 or pick the matching encoding",
				Code:    "LOAD002",
			}},
		},
		fallback: UserMessage{
			Message: "The data could not be loaded",
			Action:  "No rows were changed; fix the file and run again",
			Code:    "LOAD000",
		},
	},
	KindTransaction: {
		fallback: UserMessage{
			Message: "The database could not finish the transaction",
			Action:  "Check the table contents and run again",
			Code:    "TX001",
		},
	},
	KindRequest: {
		fallback: UserMessage{
			Message: "The request is incomplete or invalid",
			Action:  "Provide a file path, a table name and a supported delimiter",
			Code:    "REQ001",
		},
	},
	KindCancelled: {
		fallback: UserMessage{
			Message: "The run was cancelled before it finished",
			Action:  "No rows were changed; start the run again",
			Code:    "RUN001",
		},
	},
}

// defaultMessage is returned when an error has no known kind.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// sentinelMessages covers errors raised outside a run.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrTooManyRuns, UserMessage{
		Message: "Too many ingestions are running",
		Action:  "Wait a moment and try again",
		Code:    "BUSY001",
	}},
	{ErrTableBusy, UserMessage{
		Message: "Another ingestion is loading this table",
		Action:  "Wait for it to finish and try again",
		Code:    "BUSY002",
	}},
}

// MapError converts an error into a user-facing message. Errors without a
// kind get the ERR000 fallback.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	km, ok := messagesByKind[KindOf(err)]
	if !ok {
		return defaultMessage
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range km.patterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return km.fallback
}

// FormatUserError renders "Message (Code: XXX). Action", or "" for nil.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
