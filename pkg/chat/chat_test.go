package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newChatFixture(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(Config{
		BaseURL:      server.URL,
		BotToken:     "bot-token",
		GuildID:      "guild-1",
		AdminChannel: "admin-channel",
	}, zerolog.Nop())
}

func TestAssignAndRevokeRoleHitGuildEndpoint(t *testing.T) {
	var method, path string
	client := newChatFixture(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		require.Equal(t, "Bearer bot-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.True(t, client.AssignRole(context.Background(), "user-1", "role-a"))
	require.Equal(t, http.MethodPut, method)
	require.Equal(t, "/guilds/guild-1/members/user-1/roles/role-a", path)

	require.True(t, client.RevokeRole(context.Background(), "user-1", "role-a"))
	require.Equal(t, http.MethodDelete, method)
}

func TestRejectedRequestReportsFalse(t *testing.T) {
	client := newChatFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	require.False(t, client.AssignRole(context.Background(), "user-1", "role-a"))
}

func TestSendDMOpensChannelThenPosts(t *testing.T) {
	var posts []string
	client := newChatFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/@me/channels":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "dm-1"})
		case "/channels/dm-1/messages":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			posts = append(posts, body["content"])
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	require.True(t, client.SendDM(context.Background(), "user-1", "Olá!"))
	require.Equal(t, []string{"Olá!"}, posts)
}

func TestAlertAdminWithoutChannelIsFalse(t *testing.T) {
	client := New(Config{BaseURL: "http://localhost:0", BotToken: "x"}, zerolog.Nop())
	require.False(t, client.AlertAdmin(context.Background(), "boom"))
}
