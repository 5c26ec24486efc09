package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Galax028/Bunsho/pkg/protocol"
)

// Kind classifies a server failure into the closed Bunsho error taxonomy.
type Kind int

const (
	// KindTransport covers network failures and responses whose error
	// envelope could not be understood. It is never treated as Unauthorized
	// and must not trigger session clearing.
	KindTransport Kind = iota
	KindForbidden
	KindInvalid
	KindNotFound
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindForbidden:
		return "Forbidden"
	case KindInvalid:
		return "Bad Request"
	case KindNotFound:
		return "Not Found"
	case KindUnauthorized:
		return "Unauthorized"
	default:
		return "Transport"
	}
}

// wireKinds maps the error envelope's error field, which carries the HTTP
// reason phrase, to its Kind.
var wireKinds = map[string]Kind{
	"Forbidden":    KindForbidden,
	"Bad Request":  KindInvalid,
	"Not Found":    KindNotFound,
	"Unauthorized": KindUnauthorized,
}

// Sub-reason messages the server attaches to classified failures.
const (
	// Forbidden
	ReasonNoAdminPermissions    = "Insufficient permissions to perform administrator actions."
	ReasonNoDeletePermissions   = "Insufficient permissions to delete files."
	ReasonNoLocationPermissions = "Insufficient permissions to access this location."
	ReasonNoMovePermissions     = "Insufficient permissions to move files."
	ReasonNoWritePermissions    = "Insufficient permissions to write files."

	// Bad Request
	ReasonBadArguments        = "Bad argument values were provided."
	ReasonFileFolderExists    = "There is already a file/folder with the same name at the destination."
	ReasonNoCredentials       = "Credentials were not provided."
	ReasonNoLocation          = "Location index was not provided."
	ReasonNoUsername          = "Username was not specified."
	ReasonTraversalNotAllowed = "Directory traversal outside of the root location is not allowed."

	// Not Found
	ReasonFileFolderNotFound = "File or folder was not found."
	ReasonLocationNotFound   = "The provided location was not found."
	ReasonUserNotFound       = "Requested user was not found."

	// Unauthorized
	ReasonBadCredentials = "Given credentials were invalid."
	ReasonBadIssuer      = "Invalid token issuer."
	ReasonBadScheme      = "Bearer authorization is required."
	ReasonBadUname       = "Could not find the user with the provided username."
	ReasonBlacklisted    = "This token has been invalidated."
	ReasonDecodeError    = "An error occurred while trying to decode the token."
	ReasonExpired        = "This token has expired."
)

// Error is a classified server failure.
type Error struct {
	Kind    Kind
	Message string // the server's sub-reason, e.g. "This token has expired."
	Status  int    // HTTP status of the response
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (%d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

// AsError checks whether err carries a classified failure and returns it.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsUnauthorized reports whether err is classified Unauthorized.
func IsUnauthorized(err error) bool {
	apiErr, ok := AsError(err)
	return ok && apiErr.Kind == KindUnauthorized
}

// classify maps a non-2xx response body to a typed failure. A body that does
// not parse, or whose error field is unrecognized, yields KindTransport.
func classify(status int, body []byte) *Error {
	var env protocol.ErrorResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return &Error{
			Kind:    KindTransport,
			Message: fmt.Sprintf("unparseable error response (%d bytes)", len(body)),
			Status:  status,
		}
	}
	kind, ok := wireKinds[env.Error]
	if !ok {
		return &Error{
			Kind:    KindTransport,
			Message: fmt.Sprintf("unrecognized error %q: %s", env.Error, env.ErrorMsg),
			Status:  status,
		}
	}
	return &Error{Kind: kind, Message: env.ErrorMsg, Status: status}
}
