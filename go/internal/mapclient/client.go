// Package mapclient keeps a local mirror of one battle map and sends the master's edits to the relay.
package mapclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tavern/go/internal/models"
	"github.com/mcdev12/tavern/go/internal/relay"
)

// DefaultDragInterval is the minimum spacing between drag updates sent to the relay.
const DefaultDragInterval = 60 * time.Millisecond

var ErrNotConnected = errors.New("map client not connected")

// Config holds configuration for a map client
type Config struct {
	ServerURL    string // http(s) or ws(s) base URL of the tavern server
	MapID        string
	Actor        models.Actor
	Privileged   bool // whether Actor holds the master role; players only observe
	Clock        clockwork.Clock
	DragInterval time.Duration
	OnChange     func(tokens []models.Token) // called after every local or remote change
}

// Client mirrors one map. All mutating methods are no-ops unless the client is privileged.
type Client struct {
	cfg   Config
	clock clockwork.Clock

	mu       sync.Mutex
	tokens   []models.Token
	selected string
	dragging string
	lastDrag time.Time
	ready    bool

	writeMu sync.Mutex
	conn    *websocket.Conn
	done    chan struct{} // closed when the listener of conn exits
	send    func(relay.Event) error
}

// New creates a disconnected client
func New(cfg Config) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.DragInterval <= 0 {
		cfg.DragInterval = DefaultDragInterval
	}
	c := &Client{
		cfg:    cfg,
		clock:  cfg.Clock,
		tokens: []models.Token{},
	}
	c.send = c.writeEvent
	return c
}

// Dial opens the map websocket and starts applying server events. The first event is always
// the full list. Dialing again after a lost connection resyncs from a fresh init; a
// connection that is still open is replaced.
func (c *Client) Dial(ctx context.Context) error {
	wsURL, err := c.socketURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect map %s: %w", c.cfg.MapID, err)
	}

	done := make(chan struct{})
	c.writeMu.Lock()
	prev, prevDone := c.conn, c.done
	c.conn, c.done = conn, done
	c.writeMu.Unlock()

	if prev != nil {
		_ = prev.Close()
		<-prevDone
	}
	go c.listen(conn, done)

	log.Debug().Str("map_id", c.cfg.MapID).Str("user_id", c.cfg.Actor.ID).Msg("map client connected")
	return nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	conn, done := c.conn, c.done
	c.conn, c.done = nil, nil
	c.writeMu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := conn.Close()
	<-done
	return err
}

func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.ServerURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url scheme %q", u.Scheme)
	}
	u.Path += "/ws/maps/" + url.PathEscape(c.cfg.MapID)

	q := u.Query()
	if c.cfg.Actor.ID != "" {
		q.Set("user_id", c.cfg.Actor.ID)
	}
	if c.cfg.Actor.Nick != "" {
		q.Set("nick", c.cfg.Actor.Nick)
	}
	if c.cfg.Actor.Email != "" {
		q.Set("email", c.cfg.Actor.Email)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer c.dropped(conn)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("map_id", c.cfg.MapID).Msg("map connection lost")
			}
			return
		}

		var event relay.Event
		if err := json.Unmarshal(message, &event); err != nil {
			log.Warn().Err(err).Str("map_id", c.cfg.MapID).Msg("failed to parse map event")
			continue
		}
		c.handleEvent(event)
	}
}

// dropped forgets conn if it is still the current connection, so sends fail fast and the
// mirror waits for the next init.
func (c *Client) dropped(conn *websocket.Conn) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	_ = conn.Close()

	c.mu.Lock()
	c.ready = false
	c.dragging = ""
	c.mu.Unlock()
}

func (c *Client) writeEvent(event relay.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(event)
}

// handleEvent applies a server event to the mirror
func (c *Client) handleEvent(event relay.Event) {
	payload, err := relay.ParsePayload(event)
	if err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("ignoring map event")
		return
	}

	c.mu.Lock()
	switch p := payload.(type) {
	case relay.InitPayload:
		// server list wins over anything edited locally before the snapshot arrived
		c.tokens = normalizeList(p.Tokens)
		c.ready = true
		if models.TokenIndex(c.tokens, c.selected) < 0 {
			c.selected = ""
		}
	case models.Token:
		c.tokens = addToken(c.tokens, p)
	case relay.UpdateTokenPayload:
		// our own drag echoes lag behind the pointer
		if p.ID != c.dragging {
			c.tokens = updateToken(c.tokens, p)
		}
	case relay.DeleteTokenPayload:
		c.tokens = removeToken(c.tokens, p.ID)
		if c.selected == p.ID {
			c.selected = ""
		}
	case relay.ReorderPayload:
		c.tokens = normalizeList(p.Tokens)
	}
	c.mu.Unlock()

	c.notify()
}

// Tokens returns the mirrored list in z-order.
func (c *Client) Tokens() []models.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Token, len(c.tokens))
	copy(out, c.tokens)
	return out
}

// Ready reports whether the initial list has arrived.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Select marks id as the selected token; an empty id clears the selection.
func (c *Client) Select(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != "" && models.TokenIndex(c.tokens, id) < 0 {
		return
	}
	c.selected = id
}

func (c *Client) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// AddToken adds t locally and announces it. Adding an id that already exists changes nothing.
func (c *Client) AddToken(t models.Token) error {
	if !c.cfg.Privileged {
		return nil
	}
	c.mu.Lock()
	if models.TokenIndex(c.tokens, t.ID) >= 0 {
		c.mu.Unlock()
		return nil
	}
	c.tokens = append(c.tokens, t)
	c.mu.Unlock()

	c.notify()
	return c.emit(relay.EventTypeAddToken, t)
}

// MoveToken moves a token during a drag. The local mirror always follows; the relay gets
// at most one update per drag interval.
func (c *Client) MoveToken(id string, x, y float64) error {
	if !c.cfg.Privileged {
		return nil
	}
	now := c.clock.Now()

	c.mu.Lock()
	if models.TokenIndex(c.tokens, id) < 0 {
		c.mu.Unlock()
		return nil
	}
	c.tokens = updateToken(c.tokens, relay.UpdateTokenPayload{ID: id, X: x, Y: y})
	c.dragging = id
	due := c.lastDrag.IsZero() || now.Sub(c.lastDrag) >= c.cfg.DragInterval
	if due {
		c.lastDrag = now
	}
	c.mu.Unlock()

	c.notify()
	if !due {
		return nil
	}
	return c.emit(relay.EventTypeUpdateToken, relay.UpdateTokenPayload{ID: id, X: x, Y: y, Dragging: true})
}

// EndDrag sends the final position of a drag regardless of the throttle.
func (c *Client) EndDrag(id string, x, y float64) error {
	if !c.cfg.Privileged {
		return nil
	}
	c.mu.Lock()
	c.dragging = ""
	c.lastDrag = time.Time{}
	if models.TokenIndex(c.tokens, id) < 0 {
		c.mu.Unlock()
		return nil
	}
	c.tokens = updateToken(c.tokens, relay.UpdateTokenPayload{ID: id, X: x, Y: y})
	c.mu.Unlock()

	c.notify()
	return c.emit(relay.EventTypeUpdateToken, relay.UpdateTokenPayload{ID: id, X: x, Y: y})
}

// ResizeToken applies a transform. The scale is folded into the stored width and height.
func (c *Client) ResizeToken(id string, x, y, width, height, scaleX, scaleY float64) error {
	if !c.cfg.Privileged {
		return nil
	}
	w, h := width*scaleX, height*scaleY
	update := relay.UpdateTokenPayload{ID: id, X: x, Y: y, Width: &w, Height: &h}

	c.mu.Lock()
	if models.TokenIndex(c.tokens, id) < 0 {
		c.mu.Unlock()
		return nil
	}
	c.tokens = updateToken(c.tokens, update)
	c.mu.Unlock()

	c.notify()
	return c.emit(relay.EventTypeUpdateToken, update)
}

// Reorder replaces the list with tokens in their new z-order.
func (c *Client) Reorder(tokens []models.Token) error {
	if !c.cfg.Privileged {
		return nil
	}
	list := normalizeList(tokens)
	c.mu.Lock()
	c.tokens = list
	c.mu.Unlock()

	c.notify()
	return c.emit(relay.EventTypeReorder, relay.ReorderPayload{Tokens: list})
}

// BringForward swaps id with the token above it. The top token stays put.
func (c *Client) BringForward(id string) error {
	return c.swap(id, 1)
}

// SendBackward swaps id with the token below it. The bottom token stays put.
func (c *Client) SendBackward(id string) error {
	return c.swap(id, -1)
}

func (c *Client) swap(id string, dir int) error {
	if !c.cfg.Privileged {
		return nil
	}
	c.mu.Lock()
	list, ok := swapNeighbour(c.tokens, id, dir)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.tokens = list
	out := make([]models.Token, len(list))
	copy(out, list)
	c.mu.Unlock()

	c.notify()
	return c.emit(relay.EventTypeReorder, relay.ReorderPayload{Tokens: out})
}

// DeleteToken removes id and clears the selection when it pointed at it.
func (c *Client) DeleteToken(id string) error {
	if !c.cfg.Privileged {
		return nil
	}
	c.mu.Lock()
	if models.TokenIndex(c.tokens, id) < 0 {
		c.mu.Unlock()
		return nil
	}
	c.tokens = removeToken(c.tokens, id)
	if c.selected == id {
		c.selected = ""
	}
	c.mu.Unlock()

	c.notify()
	return c.emit(relay.EventTypeDeleteToken, relay.DeleteTokenPayload{ID: id})
}

func (c *Client) emit(eventType relay.EventType, payload any) error {
	event, err := relay.NewEvent(eventType, c.cfg.MapID, c.cfg.Actor.ID, payload, c.clock.Now())
	if err != nil {
		return err
	}
	if err := c.send(event); err != nil {
		return fmt.Errorf("failed to send %s: %w", eventType, err)
	}
	return nil
}

func (c *Client) notify() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(c.Tokens())
	}
}

// FetchTokens reads the map's list over REST, for callers that only need a snapshot.
func FetchTokens(ctx context.Context, client *http.Client, serverURL, mapID string) ([]models.Token, error) {
	endpoint := strings.TrimRight(serverURL, "/") + "/api/maps/" + url.PathEscape(mapID) + "/tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	var payload relay.InitPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode tokens: %w", err)
	}
	return normalizeList(payload.Tokens), nil
}
