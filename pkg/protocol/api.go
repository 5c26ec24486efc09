// Package protocol defines the request/response types of the Bunsho HTTP API.
package protocol

import (
	"bytes"
	"encoding/json"
)

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Uname  string `json:"uname"`
	Passwd string `json:"passwd"`
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	Token string `json:"token"`
}

// DirectoryEntry is one filesystem object in a listing response.
// Mimetype and Size are null for directories; Size is pre-formatted by the
// server (e.g. "1.02 kB") and Created is unix seconds.
type DirectoryEntry struct {
	Name        string `json:"name"`
	Mimetype    string `json:"mimetype,omitempty"`
	Size        string `json:"size,omitempty"`
	Created     int64  `json:"created"`
	IsDirectory bool   `json:"is_directory"`
}

// ListingResponse is returned by GET /core/ls/{location}/{path}.
type ListingResponse struct {
	Listing []DirectoryEntry `json:"listing"`
}

// MoveRequest is the body for PATCH /core/mv/{location}/{path}.
// When Rename is true the server renames the last path segment to NewPath
// instead of moving the object into the NewPath folder.
type MoveRequest struct {
	NewPath string `json:"new_path"`
	Rename  bool   `json:"rename"`
}

// StatusResponse is returned by mutation endpoints on success.
type StatusResponse struct {
	Status string `json:"status"`
}

// Permissions holds the per-user action flags carried in the token and
// returned by GET /auth/get-user.
type Permissions struct {
	Admin  bool `json:"admin"`
	Write  bool `json:"write"`
	Move   bool `json:"move"`
	Delete bool `json:"delete"`
	Share  bool `json:"share"`
}

// LocationScope is the set of location names a user may access. On the wire
// it is either the string "all" or a JSON array of names.
type LocationScope struct {
	All   bool
	Names []string
}

func (s *LocationScope) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		s.All = v == "all"
		s.Names = nil
		return nil
	}
	s.All = false
	return json.Unmarshal(data, &s.Names)
}

func (s LocationScope) MarshalJSON() ([]byte, error) {
	if s.All {
		return json.Marshal("all")
	}
	return json.Marshal(s.Names)
}

// User is a user record as returned by GET /auth/get-user.
type User struct {
	Uname               string        `json:"uname"`
	AuthorizedLocations LocationScope `json:"authorized_locations"`
	Permissions         Permissions   `json:"permissions"`
}

// UserResponse wraps the user record returned by GET /auth/get-user.
type UserResponse struct {
	Body User `json:"body"`
}

// ErrorResponse is the envelope the server returns on any non-2xx status.
// Error is one of the four HTTP reason phrases ("Forbidden", "Bad Request",
// "Not Found", "Unauthorized"); ErrorMsg carries the specific sub-reason.
type ErrorResponse struct {
	Error    string `json:"error"`
	ErrorMsg string `json:"error_msg"`
}
