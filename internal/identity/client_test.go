package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"message-sync/internal/models"
)

func TestClientWorkspaceUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/organizations/org1/members", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"_id":"u1","user_name":"ada","image_url":"a.png"},{"_id":"u2","user_name":"bob"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "org1", "u1", "secret", time.Second)
	users, err := client.WorkspaceUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "ada", users[0].UserName)
}

func TestClientCurrentUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/u1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"_id":"u1","user_name":"ada"}}`))
	}))
	defer srv.Close()

	user, err := NewClient(srv.URL, "org1", "u1", "", time.Second).CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.User{ID: "u1", UserName: "ada"}, user)
}

func TestClientCurrentUserNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "org1", "u1", "", time.Second).CurrentUser(context.Background())
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "org1", "u1", "", time.Second).WorkspaceUsers(context.Background())
	require.Error(t, err)
}

func TestRosterResolve(t *testing.T) {
	roster := NewRoster([]models.User{{ID: "u1", UserName: "ada", ImageURL: "a.png"}, {ID: ""}})

	assert.Equal(t, 1, roster.Len())
	assert.Equal(t, models.Sender{SenderID: "u1", SenderName: "ada", SenderImageURL: "a.png"}, roster.Resolve("u1"))
	assert.Equal(t, models.Sender{SenderID: "ghost"}, roster.Resolve("ghost"))

	var empty *Roster
	assert.Equal(t, models.Sender{SenderID: "u1"}, empty.Resolve("u1"))
}
