package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Galax028/Bunsho/pkg/protocol"
	"github.com/Galax028/Bunsho/pkg/session"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *session.Store) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	sess := session.New(filepath.Join(t.TempDir(), "token.json"))
	return New(Config{BaseURL: ts.URL, Session: sess, MaxRetries: 1}), sess
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: kind, ErrorMsg: msg})
}

func TestLogin_Success(t *testing.T) {
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var req protocol.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "admin", req.Uname)
		assert.Equal(t, "hunter2", req.Passwd)

		json.NewEncoder(w).Encode(protocol.LoginResponse{Token: "jwt-token-123"})
	}))

	token, err := c.Login(context.Background(), "admin", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token-123", token)

	// The gateway never touches the session store.
	assert.False(t, sess.Authenticated())
}

func TestLogin_BadCredentials(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, "Unauthorized", ReasonBadCredentials)
	}))

	_, err := c.Login(context.Background(), "admin", "wrong")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonBadCredentials, apiErr.Message)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestListing_AttachesBearerCredential(t *testing.T) {
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-abc", r.Header.Get("Authorization"))
		assert.Equal(t, "/core/ls/0/", r.URL.Path)
		json.NewEncoder(w).Encode(protocol.ListingResponse{Listing: []protocol.DirectoryEntry{
			{Name: "essay.txt", Mimetype: "text/plain", Size: "1.02 kB", Created: 1650000000},
		}})
	}))
	sess.Set("tok-abc")

	entries, err := c.Listing(context.Background(), 0, "/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "essay.txt", entries[0].Name)
}

func TestListing_NoCredentialWhenUnauthenticated(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeError(w, http.StatusUnauthorized, "Unauthorized", ReasonBadScheme)
	}))

	_, err := c.Listing(context.Background(), 0, "/")
	assert.True(t, IsUnauthorized(err))
}

func TestListing_EscapesPathSegments(t *testing.T) {
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/core/ls/2/sub%20folder/nested", r.URL.EscapedPath())
		json.NewEncoder(w).Encode(protocol.ListingResponse{})
	}))
	sess.Set("tok")

	_, err := c.Listing(context.Background(), 2, "/sub folder/nested")
	require.NoError(t, err)
}

func TestClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		wire   string
		msg    string
		kind   Kind
	}{
		{"forbidden", http.StatusForbidden, "Forbidden", ReasonNoLocationPermissions, KindForbidden},
		{"invalid", http.StatusBadRequest, "Bad Request", ReasonBadArguments, KindInvalid},
		{"not found", http.StatusNotFound, "Not Found", ReasonFileFolderNotFound, KindNotFound},
		{"unauthorized", http.StatusUnauthorized, "Unauthorized", ReasonExpired, KindUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, tc.status, tc.wire, tc.msg)
			}))
			sess.Set("tok")

			_, err := c.Listing(context.Background(), 0, "/")
			apiErr, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, tc.kind, apiErr.Kind)
			assert.Equal(t, tc.msg, apiErr.Message)
		})
	}
}

func TestClassification_UnrecognizedEnvelopeIsTransport(t *testing.T) {
	// Even on a 401, a body the client does not understand must never be
	// treated as Unauthorized (it must not clear the session).
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Teapot","error_msg":"???"}`))
	}))
	sess.Set("tok")

	_, err := c.Listing(context.Background(), 0, "/")
	require.Error(t, err)
	assert.False(t, IsUnauthorized(err))

	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindTransport, apiErr.Kind)
}

func TestClassification_MalformedBodyIsTransport(t *testing.T) {
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("<html>nope</html>"))
	}))
	sess.Set("tok")

	_, err := c.Listing(context.Background(), 0, "/")
	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindTransport, apiErr.Kind)
	assert.False(t, IsUnauthorized(err))
}

func TestServerError_Retried(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(protocol.ListingResponse{})
	}))
	defer ts.Close()

	sess := session.New(filepath.Join(t.TempDir(), "token.json"))
	sess.Set("tok")
	c := New(Config{BaseURL: ts.URL, Session: sess, MaxRetries: 3})

	_, err := c.Listing(context.Background(), 0, "/")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
}

func TestClassifiedFailure_NotRetried(t *testing.T) {
	var attempts atomic.Int32
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		writeError(w, http.StatusForbidden, "Forbidden", ReasonNoDeletePermissions)
	}))
	sess.Set("tok")

	err := c.Remove(context.Background(), 0, "/essay.txt")
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRequestID_Attached(t *testing.T) {
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := uuid.Parse(r.Header.Get("X-Request-Id"))
		assert.NoError(t, err)
		json.NewEncoder(w).Encode(protocol.ListingResponse{})
	}))
	sess.Set("tok")

	_, err := c.Listing(context.Background(), 0, "/")
	require.NoError(t, err)
}

func TestMove(t *testing.T) {
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/core/mv/0/docs/essay.txt", r.URL.Path)

		var req protocol.MoveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/archive", req.NewPath)
		assert.False(t, req.Rename)

		json.NewEncoder(w).Encode(protocol.StatusResponse{Status: "OK"})
	}))
	sess.Set("tok")

	require.NoError(t, c.Move(context.Background(), 0, "/docs/essay.txt", "/archive", false))
}

func TestMove_Forbidden(t *testing.T) {
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusForbidden, "Forbidden", ReasonNoMovePermissions)
	}))
	sess.Set("tok")

	err := c.Move(context.Background(), 0, "/a", "/b", false)
	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindForbidden, apiErr.Kind)

	// Classified failures leave the session alone.
	assert.Equal(t, "tok", sess.Token())
}

func TestRemove(t *testing.T) {
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/core/rm/1/old", r.URL.Path)
		json.NewEncoder(w).Encode(protocol.StatusResponse{Status: "OK"})
	}))
	sess.Set("tok")

	require.NoError(t, c.Remove(context.Background(), 1, "/old"))
}

func TestUser(t *testing.T) {
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/get-user", r.URL.Path)
		assert.Equal(t, "john", r.URL.Query().Get("uname"))
		w.Write([]byte(`{"body": {
			"uname": "john",
			"authorized_locations": ["Pictures", "Documents"],
			"permissions": {"admin": false, "write": true, "move": true, "delete": false, "share": true}
		}}`))
	}))
	sess.Set("tok")

	user, err := c.User(context.Background(), "john")
	require.NoError(t, err)
	assert.Equal(t, "john", user.Uname)
	assert.False(t, user.AuthorizedLocations.All)
	assert.Equal(t, []string{"Pictures", "Documents"}, user.AuthorizedLocations.Names)
	assert.True(t, user.Permissions.Write)
	assert.False(t, user.Permissions.Admin)
}

func TestUser_AllLocations(t *testing.T) {
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"body": {"uname": "admin", "authorized_locations": "all",
			"permissions": {"admin": true, "write": true, "move": true, "delete": true, "share": true}}}`))
	}))
	sess.Set("tok")

	user, err := c.User(context.Background(), "admin")
	require.NoError(t, err)
	assert.True(t, user.AuthorizedLocations.All)
	assert.Empty(t, user.AuthorizedLocations.Names)
}

func TestLogoutAllAndUpdateConfig(t *testing.T) {
	c, sess := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/auth/logout-all", "/core/update-cfg":
			json.NewEncoder(w).Encode(protocol.StatusResponse{Status: "OK"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	sess.Set("tok")

	assert.NoError(t, c.LogoutAll(context.Background()))
	assert.NoError(t, c.UpdateConfig(context.Background()))
}
