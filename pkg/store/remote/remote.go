// Package remote is a [store.Store] that talks to a MedLingo room server.
// Mutations are JSON requests; every subscription holds its own WebSocket
// connection and transparently reconnects after transport failures. A fresh
// connection always starts with the current snapshot, so nothing is lost
// across a reconnect beyond intermediate states.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/medlingo/pkg/store"
)

var _ store.Store = (*Client)(nil)

const (
	defaultBackoff = 250 * time.Millisecond
	maxBackoff     = 10 * time.Second

	// readLimit bounds a single snapshot frame. Transcripts of long
	// consultations are far larger than the library default of 32 KiB.
	readLimit = 8 << 20
)

// Client is a remote store. It is safe for concurrent use.
type Client struct {
	baseURL string
	wsURL   string
	hc      *http.Client
	backoff time.Duration
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (15s timeout). Its
// transport is also used for WebSocket handshakes.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithReconnectBackoff sets the initial delay before re-dialling a dropped
// subscription. The delay doubles up to 10s.
func WithReconnectBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// New returns a client for the room server at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL: base,
		wsURL:   "ws" + strings.TrimPrefix(base, "http"),
		hc:      &http.Client{Timeout: 15 * time.Second},
		backoff: defaultBackoff,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateRoom implements store.Store.
func (c *Client) CreateRoom(ctx context.Context, creator store.Participant) (store.Room, error) {
	var room store.Room
	err := c.do(ctx, RouteCreate, "", "", creator, &room)
	return room, err
}

// JoinRoom implements store.Store.
func (c *Client) JoinRoom(ctx context.Context, code string, p store.Participant) (store.Participant, error) {
	var joined store.Participant
	err := c.do(ctx, RouteJoin, code, "", p, &joined)
	return joined, err
}

// LeaveRoom implements store.Store.
func (c *Client) LeaveRoom(ctx context.Context, code, participantID string) error {
	return c.do(ctx, RouteLeave, code, "", LeaveRequest{ParticipantID: participantID}, nil)
}

// EndRoom implements store.Store.
func (c *Client) EndRoom(ctx context.Context, code string) error {
	return c.do(ctx, RouteEnd, code, "", nil, nil)
}

// GetRoom implements store.Store.
func (c *Client) GetRoom(ctx context.Context, code string) (store.Room, error) {
	var room store.Room
	err := c.do(ctx, RouteGet, code, "", nil, &room)
	return room, err
}

// AppendTurn implements store.Store.
func (c *Client) AppendTurn(ctx context.Context, code string, t store.Turn) (store.Turn, error) {
	if err := t.ValidateContent(); err != nil {
		return store.Turn{}, err
	}
	var stored store.Turn
	err := c.do(ctx, RouteTurns, code, "", t, &stored)
	return stored, err
}

// SetLiveSpeech implements store.Store.
func (c *Client) SetLiveSpeech(ctx context.Context, code string, ls store.LiveSpeech) error {
	return c.do(ctx, RouteSetLive, code, ls.SpeakerID, ls, nil)
}

// ClearLiveSpeech implements store.Store.
func (c *Client) ClearLiveSpeech(ctx context.Context, code, speakerID string) error {
	return c.do(ctx, RouteClearLive, code, speakerID, nil, nil)
}

// SubscribeRoster implements store.Store.
func (c *Client) SubscribeRoster(ctx context.Context, code string) (<-chan store.Room, error) {
	return subscribe[store.Room](ctx, c, code, TopicRoster)
}

// SubscribeTurns implements store.Store.
func (c *Client) SubscribeTurns(ctx context.Context, code string) (<-chan []store.Turn, error) {
	return subscribe[[]store.Turn](ctx, c, code, TopicTurns)
}

// SubscribeLiveSpeech implements store.Store.
func (c *Client) SubscribeLiveSpeech(ctx context.Context, code string) (<-chan []store.LiveSpeech, error) {
	return subscribe[[]store.LiveSpeech](ctx, c, code, TopicLive)
}

// route splits a route pattern into method and concrete path.
func route(pattern, code, speakerID string) (method, path string) {
	method, path, _ = strings.Cut(pattern, " ")
	path = strings.ReplaceAll(path, "{code}", url.PathEscape(store.NormalizeCode(code)))
	path = strings.ReplaceAll(path, "{speakerID}", url.PathEscape(speakerID))
	return method, path
}

func (c *Client) do(ctx context.Context, pattern, code, speakerID string, in, out any) error {
	method, path := route(pattern, code, speakerID)

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote store: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("remote store: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("remote store: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote store: decode response: %w", err)
	}
	return nil
}

func responseError(resp *http.Response) error {
	var er ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	_ = json.Unmarshal(raw, &er)
	return decodeError(resp.StatusCode, er)
}

func (c *Client) dial(ctx context.Context, code, topic string) (*websocket.Conn, error) {
	_, path := route(RouteSubscribe, code, "")
	u := c.wsURL + path + "?topic=" + url.QueryEscape(topic)

	// Deadlines come from ctx; the dialer rejects clients with a Timeout.
	hc := *c.hc
	hc.Timeout = 0
	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: &hc})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, responseError(resp)
		}
		return nil, fmt.Errorf("remote store: dial %s: %w", topic, err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// terminal reports errors after which re-dialling cannot succeed.
func terminal(err error) bool {
	return errors.Is(err, store.ErrRoomNotFound)
}

func subscribe[T any](ctx context.Context, c *Client, code, topic string) (<-chan T, error) {
	conn, err := c.dial(ctx, code, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan T, 1)
	go func() {
		defer close(out)
		for {
			err := pump(ctx, conn, out)
			conn.CloseNow()
			if ctx.Err() != nil {
				return
			}
			slog.Debug("remote store: subscription dropped", "room", code, "topic", topic, "err", err)

			conn = c.redial(ctx, code, topic)
			if conn == nil {
				return
			}
		}
	}()
	return out, nil
}

// redial retries with exponential backoff. It returns nil when ctx ends or
// the room is gone.
func (c *Client) redial(ctx context.Context, code, topic string) *websocket.Conn {
	delay := c.backoff
	for {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		conn, err := c.dial(ctx, code, topic)
		if err == nil {
			return conn
		}
		if terminal(err) || ctx.Err() != nil {
			slog.Warn("remote store: subscription closed", "room", code, "topic", topic, "err", err)
			return nil
		}
		delay = min(delay*2, maxBackoff)
	}
}

// pump forwards snapshots from conn until it fails. out is a single-slot
// mailbox: an unread snapshot is replaced by the newer one.
func pump[T any](ctx context.Context, conn *websocket.Conn, out chan T) error {
	for {
		var v T
		if err := wsjson.Read(ctx, conn, &v); err != nil {
			return err
		}
		select {
		case out <- v:
			continue
		default:
		}
		select {
		case <-out:
		default:
		}
		// pump is the only sender, the slot is free now.
		out <- v
	}
}
