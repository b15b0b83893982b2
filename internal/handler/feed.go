package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/auth"
	"github.com/sakif/inkwell/internal/changefeed"
	"github.com/sakif/inkwell/internal/identity"
	"github.com/sakif/inkwell/internal/model"
	"github.com/sakif/inkwell/internal/session"
)

const (
	maxFeedSubscriptions = 16
	feedOutboxSize       = 64
)

// FeedHandler streams change events to websocket clients.
//
// Each connection is one client session: it gets its own identity gateway,
// resumed from the request's token, and a session Facade that follows the
// profile feed, so an admin demoting the user takes effect on the open
// socket. Subscriptions are scoped to the connection and all of them are
// released when it closes.
//
// Client → server frames:
//
//	{"type":"subscribe","id":"s1","table":"posts","event":"*"}
//	{"type":"unsubscribe","id":"s1"}
//	{"type":"refresh"}   re-issue the session token
//	{"type":"signout"}
//
// Server → client frames: session, subscribed, unsubscribed, event, token, error.
type FeedHandler struct {
	source      changefeed.Source
	provider    *identity.Provider
	provisioner *session.Provisioner
	logger      *slog.Logger
}

func NewFeedHandler(source changefeed.Source, provider *identity.Provider, provisioner *session.Provisioner, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{
		source:      source,
		provider:    provider,
		provisioner: provisioner,
		logger:      logger,
	}
}

type feedRequest struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Table string `json:"table,omitempty"`
	Event string `json:"event,omitempty"`
}

// FeedMessage is a server → client frame.
type FeedMessage struct {
	Type    string            `json:"type"`
	ID      string            `json:"id,omitempty"`
	Event   *changefeed.Event `json:"event,omitempty"`
	Session *session.State    `json:"session,omitempty"`
	Token   string            `json:"token,omitempty"`
	Error   *ErrorResponse    `json:"error,omitempty"`
}

// HTTP: GET /api/feed (websocket upgrade)
func (h *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed", Message: "use GET to open the feed"})
		return
	}
	websocket.Handler(h.serve).ServeHTTP(w, r)
}

// feedConn serialises writes to one socket. Hub handlers run on the
// publisher's goroutine, so they only enqueue; a full outbox means the
// client cannot keep up and the connection is dropped.
type feedConn struct {
	ws     *websocket.Conn
	out    chan FeedMessage
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (c *feedConn) send(m FeedMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- m:
	case <-c.done:
	default:
		c.logger.Warn("feed client too slow, closing connection")
		c.close()
	}
}

func (c *feedConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *feedConn) writeLoop() {
	enc := json.NewEncoder(c.ws)
	for {
		select {
		case <-c.done:
			return
		case m := <-c.out:
			if err := enc.Encode(m); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *feedConn) sendError(id string, err error) {
	status, kind := errorStatus(err)
	msg := http.StatusText(status)
	var appErr *apperror.AppError
	if status != http.StatusInternalServerError && errors.As(err, &appErr) {
		msg = appErr.Message
	}
	c.send(FeedMessage{Type: "error", ID: id, Error: &ErrorResponse{Error: kind, Message: msg}})
}

func (h *FeedHandler) serve(ws *websocket.Conn) {
	req := ws.Request()
	ctx := req.Context()
	c := &feedConn{
		ws:     ws,
		out:    make(chan FeedMessage, feedOutboxSize),
		done:   make(chan struct{}),
		logger: h.logger,
	}
	defer c.close()
	// The server's request timeouts still apply to a hijacked connection.
	ws.SetDeadline(time.Time{})
	go c.writeLoop()

	gw := identity.NewLocal(h.provider, h.logger)
	if token := auth.TokenFromRequest(req); token != "" {
		if _, err := gw.Resume(ctx, token); err != nil {
			c.sendError("", err)
			if !errors.Is(err, apperror.ErrUnauthenticated) {
				return
			}
		}
	}

	facade := session.NewFacade(gw, h.provisioner, h.logger)
	defer facade.Close()
	if err := facade.Init(ctx); err != nil {
		c.sendError("", err)
		return
	}
	watch := facade.Watch(h.source)
	defer watch.Close()
	cancelState := facade.Subscribe(func(s session.State) {
		c.send(FeedMessage{Type: "session", Session: &s})
	})
	defer cancelState()

	subs := make(map[string]*changefeed.Subscription)
	defer func() {
		for _, s := range subs {
			s.Close()
		}
	}()

	dec := json.NewDecoder(ws)
	for {
		var f feedRequest
		if err := dec.Decode(&f); err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-c.done:
				default:
					h.logger.Debug("feed connection closed", slog.String("error", err.Error()))
				}
			}
			return
		}

		switch f.Type {
		case "subscribe":
			if err := h.subscribe(c, facade, subs, f); err != nil {
				c.sendError(f.ID, err)
				continue
			}
			c.send(FeedMessage{Type: "subscribed", ID: f.ID})
		case "unsubscribe":
			s, ok := subs[f.ID]
			if !ok {
				c.sendError(f.ID, apperror.NotFound("subscription", f.ID))
				continue
			}
			s.Close()
			delete(subs, f.ID)
			c.send(FeedMessage{Type: "unsubscribed", ID: f.ID})
		case "refresh":
			id, err := gw.Refresh(ctx)
			if err != nil {
				c.sendError("", err)
				continue
			}
			c.send(FeedMessage{Type: "token", Token: id.Token})
		case "signout":
			gw.SignOut(ctx)
		default:
			c.sendError(f.ID, apperror.ValidationFailed("type", "unsupported frame type "+f.Type))
		}
	}
}

var feedTables = map[string]bool{
	changefeed.TablePosts:          true,
	changefeed.TableCategories:     true,
	changefeed.TableProfiles:       true,
	changefeed.TableReadingHistory: true,
}

func (h *FeedHandler) subscribe(c *feedConn, facade *session.Facade, subs map[string]*changefeed.Subscription, f feedRequest) error {
	id := strings.TrimSpace(f.ID)
	if id == "" {
		return apperror.ValidationFailed("id", "subscription id is required")
	}
	if _, dup := subs[id]; dup {
		return apperror.Conflict("subscription", id)
	}
	if len(subs) >= maxFeedSubscriptions {
		return apperror.ValidationFailed("id", "too many subscriptions on this connection")
	}
	if !feedTables[f.Table] {
		return apperror.ValidationFailed("table", "unknown table "+f.Table)
	}
	typ, err := changefeed.ParseEventType(f.Event)
	if err != nil {
		return apperror.ValidationFailed("event", err.Error())
	}

	subs[id] = h.source.Subscribe(changefeed.Filter{Table: f.Table, Type: typ}, func(e changefeed.Event) {
		// Checked per event: the role can change while the socket is open.
		if !visible(facade.Current(), e) {
			return
		}
		c.send(FeedMessage{Type: "event", ID: id, Event: &e})
	})
	return nil
}

// visible decides whether a session may see an event. Posts and categories
// are public. Profiles and reading history are visible to their owner and
// to elevated sessions.
func visible(s session.State, e changefeed.Event) bool {
	switch e.Table {
	case changefeed.TablePosts, changefeed.TableCategories:
		return true
	case changefeed.TableProfiles:
		return s.HasRole(model.RoleElevated) || (s.Authenticated() && e.ID == s.UserID())
	case changefeed.TableReadingHistory:
		return s.HasRole(model.RoleElevated) || (s.Authenticated() && strings.HasPrefix(e.ID, s.UserID()+":"))
	}
	return false
}
