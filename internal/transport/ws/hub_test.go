package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradeflow/internal/config"
	"gradeflow/internal/model"
	"gradeflow/internal/repository/inmem"
	"gradeflow/internal/service"
)

func newTestServer(t *testing.T) (*Hub, *service.AuthService, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	t.Cleanup(hub.Close)
	auth := service.NewAuthService(inmem.NewUserRepo(), config.AuthConfig{JWTSecret: "test", TokenTTL: time.Hour})

	srv := httptest.NewServer(http.HandlerFunc(NewHandler(hub, auth, "*").NotificationsWS))
	t.Cleanup(srv.Close)
	return hub, auth, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestNotificationsDeliveredToUser(t *testing.T) {
	hub, auth, srv := newTestServer(t)
	token, err := auth.IssueToken(&model.User{ID: "u-1", Role: model.RoleTeacher})
	require.NoError(t, err)

	conn, _, err := dial(t, srv, token)
	require.NoError(t, err)
	defer conn.Close()

	hello := readMessage(t, conn)
	assert.Equal(t, MsgConnected, hello.Type)
	assert.JSONEq(t, `{"userId":"u-1"}`, string(hello.Payload))

	require.Eventually(t, func() bool { return hub.Connected("u-1") == 1 }, time.Second, 10*time.Millisecond)

	hub.SendToUser("someone-else", string(MsgNotification), map[string]string{"title": "not yours"})
	hub.SendToUser("u-1", string(MsgNotification), map[string]string{"title": "Sheet corrected"})

	msg := readMessage(t, conn)
	assert.Equal(t, MsgNotification, msg.Type)
	assert.JSONEq(t, `{"title":"Sheet corrected"}`, string(msg.Payload))
}

func TestNotificationsRejectsBadToken(t *testing.T) {
	_, _, srv := newTestServer(t)

	for _, token := range []string{"", "garbage"} {
		_, resp, err := dial(t, srv, token)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestUnregisterOnDisconnect(t *testing.T) {
	hub, auth, srv := newTestServer(t)
	token, err := auth.IssueToken(&model.User{ID: "u-2", Role: model.RoleStudent})
	require.NoError(t, err)

	conn, _, err := dial(t, srv, token)
	require.NoError(t, err)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.Connected("u-2") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Connected("u-2") == 0 }, 3*time.Second, 10*time.Millisecond)

	// sending to a user with no connections is a no-op
	hub.SendToUser("u-2", string(MsgNotification), map[string]string{"title": "later"})
}

func TestOriginChecker(t *testing.T) {
	check := originChecker("https://app.school.test, https://admin.school.test")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req), "same-origin requests carry no Origin header")

	req.Header.Set("Origin", "https://admin.school.test")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.test")
	assert.False(t, check(req))

	assert.True(t, originChecker("*")(req))
}
