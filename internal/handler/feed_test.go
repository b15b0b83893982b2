package handler_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/sakif/inkwell/internal/changefeed"
	"github.com/sakif/inkwell/internal/handler"
	"github.com/sakif/inkwell/internal/model"
)

func dialFeed(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	cfg, err := websocket.NewConfig("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/feed", srv.URL)
	require.NoError(t, err)
	if token != "" {
		cfg.Header.Set("Authorization", "Bearer "+token)
	}
	conn, err := websocket.DialConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads frames until one of type typ arrives.
func next(t *testing.T, conn *websocket.Conn, typ string) handler.FeedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var m handler.FeedMessage
		require.NoError(t, websocket.JSON.Receive(conn, &m), "waiting for %q", typ)
		if m.Type == typ {
			return m
		}
	}
}

// until reads frames until ok accepts one.
func until(t *testing.T, conn *websocket.Conn, what string, ok func(handler.FeedMessage) bool) handler.FeedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var m handler.FeedMessage
		require.NoError(t, websocket.JSON.Receive(conn, &m), "waiting for %s", what)
		if ok(m) {
			return m
		}
	}
}

func subscribe(t *testing.T, conn *websocket.Conn, id, table string) {
	t.Helper()
	require.NoError(t, websocket.JSON.Send(conn, map[string]string{"type": "subscribe", "id": id, "table": table, "event": "*"}))
	m := next(t, conn, "subscribed")
	require.Equal(t, id, m.ID)
}

func TestFeed_StreamsPostEvents(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.router)
	t.Cleanup(srv.Close)

	admin := app.signUp(t, adminEmail, "Admin")
	user := app.signUp(t, "w@example.com", "W")

	conn := dialFeed(t, srv, "")
	s := next(t, conn, "session")
	assert.False(t, s.Session.Authenticated(), "no token means an anonymous feed")
	subscribe(t, conn, "cats", changefeed.TableCategories)

	rec := app.do(t, http.MethodPost, "/api/categories", admin.Identity.Token, map[string]string{"name": "Tech"})
	require.Equal(t, http.StatusCreated, rec.Code)
	m := next(t, conn, "event")
	assert.Equal(t, "cats", m.ID)
	assert.Equal(t, changefeed.Insert, m.Event.Type)
	var cat model.Category
	require.NoError(t, m.Event.Decode(&cat))
	assert.Equal(t, "Tech", cat.Name)

	// Creating a post recomputes the count, which arrives as a category update.
	rec = app.do(t, http.MethodPost, "/api/posts", user.Identity.Token, map[string]string{"title": "t", "body": "b", "categoryId": cat.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	m = next(t, conn, "event")
	assert.Equal(t, changefeed.Update, m.Event.Type)
	require.NoError(t, m.Event.Decode(&cat))
	assert.Equal(t, int64(1), cat.PostCount)
}

func TestFeed_ProfileEventsNeedElevatedRole(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.router)
	t.Cleanup(srv.Close)

	admin := app.signUp(t, adminEmail, "Admin")
	user := app.signUp(t, "u@example.com", "U")
	other := app.signUp(t, "o@example.com", "O")

	conn := dialFeed(t, srv, user.Identity.Token)
	s := next(t, conn, "session")
	require.True(t, s.Session.Authenticated())
	assert.Equal(t, user.Identity.UserID, s.Session.UserID())
	subscribe(t, conn, "people", changefeed.TableProfiles)

	// Another user's profile change is not visible to a standard session.
	rec := app.do(t, http.MethodPut, "/api/profiles/"+other.Identity.UserID+"/role", admin.Identity.Token, map[string]string{"role": "elevated"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Promoting the connected user updates the socket's session and makes
	// other profiles visible from then on.
	rec = app.do(t, http.MethodPut, "/api/profiles/"+user.Identity.UserID+"/role", admin.Identity.Token, map[string]string{"role": "elevated"})
	require.Equal(t, http.StatusOK, rec.Code)
	var sawOwn, sawElevated bool
	until(t, conn, "own profile event and elevated session", func(m handler.FeedMessage) bool {
		switch m.Type {
		case "event":
			assert.Equal(t, user.Identity.UserID, m.Event.ID, "the first profile event seen is the user's own")
			sawOwn = true
		case "session":
			sawElevated = sawElevated || m.Session.HasRole(model.RoleElevated)
		}
		return sawOwn && sawElevated
	})

	rec = app.do(t, http.MethodPut, "/api/profiles/"+other.Identity.UserID+"/role", admin.Identity.Token, map[string]string{"role": "standard"})
	require.Equal(t, http.StatusOK, rec.Code)
	m := next(t, conn, "event")
	assert.Equal(t, other.Identity.UserID, m.Event.ID)
}

func TestFeed_UnsubscribeAndErrors(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.router)
	t.Cleanup(srv.Close)

	conn := dialFeed(t, srv, "not-a-token")
	m := next(t, conn, "error")
	assert.Equal(t, "unauthenticated", m.Error.Error)

	require.NoError(t, websocket.JSON.Send(conn, map[string]string{"type": "subscribe", "id": "x", "table": "secrets"}))
	m = next(t, conn, "error")
	assert.Equal(t, "validation_error", m.Error.Error)

	subscribe(t, conn, "p", changefeed.TablePosts)
	before := app.hub.Len()

	require.NoError(t, websocket.JSON.Send(conn, map[string]string{"type": "subscribe", "id": "p", "table": "posts"}))
	m = next(t, conn, "error")
	assert.Equal(t, "conflict", m.Error.Error)

	require.NoError(t, websocket.JSON.Send(conn, map[string]string{"type": "unsubscribe", "id": "p"}))
	next(t, conn, "unsubscribed")
	assert.Equal(t, before-1, app.hub.Len())

	require.NoError(t, websocket.JSON.Send(conn, map[string]string{"type": "bogus"}))
	m = next(t, conn, "error")
	assert.Equal(t, "validation_error", m.Error.Error)
}

func TestFeed_CloseReleasesSubscriptions(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.router)
	t.Cleanup(srv.Close)
	baseline := app.hub.Len()

	conn := dialFeed(t, srv, "")
	next(t, conn, "session")
	subscribe(t, conn, "a", changefeed.TablePosts)
	subscribe(t, conn, "b", changefeed.TableCategories)
	assert.Greater(t, app.hub.Len(), baseline)

	conn.Close()
	require.Eventually(t, func() bool { return app.hub.Len() == baseline }, 3*time.Second, 10*time.Millisecond)
}

func TestFeed_RefreshIssuesToken(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.router)
	t.Cleanup(srv.Close)
	user := app.signUp(t, "r@example.com", "R")

	conn := dialFeed(t, srv, user.Identity.Token)
	next(t, conn, "session")
	require.NoError(t, websocket.JSON.Send(conn, map[string]string{"type": "refresh"}))
	m := next(t, conn, "token")
	assert.NotEmpty(t, m.Token)

	require.NoError(t, websocket.JSON.Send(conn, map[string]string{"type": "signout"}))
	until(t, conn, "anonymous session", func(m handler.FeedMessage) bool {
		return m.Type == "session" && !m.Session.Authenticated()
	})
}
