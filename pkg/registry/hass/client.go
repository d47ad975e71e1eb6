package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/entwarden/entwarden/pkg/registry"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultCommandTimeout   = 15 * time.Second

	// eventBuffer bounds the watcher channel. The daemon treats registry
	// events as hints, so a dropped event is recovered by the next
	// reconciliation cycle.
	eventBuffer = 64
)

// Config holds the connection settings for a registry websocket endpoint.
type Config struct {
	// Endpoint is the websocket URL, e.g. ws://homeassistant:8123/api/websocket.
	Endpoint string

	// Token is the long-lived access token presented during the auth
	// handshake.
	Token string

	// HandshakeTimeout bounds the dial and auth exchange.
	HandshakeTimeout time.Duration

	// CommandTimeout bounds each command round trip.
	CommandTimeout time.Duration
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("endpoint scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	return nil
}

// Client talks to a Home-Assistant-style entity registry over a single
// websocket connection. Commands from concurrent callers are multiplexed
// by message id; the read loop routes each result to the round trip that
// is waiting for it. Client implements registry.Store.
type Client struct {
	config Config
	logger zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]chan *frame
	watchers map[int64]chan Event

	closed    chan struct{}
	closeOnce sync.Once
	readDone  chan struct{}
}

// Dial connects to the registry endpoint, runs the token handshake, and
// starts the read loop.
func Dial(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial registry: %w", err)
	}

	c := &Client{
		config:   cfg,
		logger:   logger.With().Str("component", "hass_registry").Logger(),
		conn:     conn,
		pending:  make(map[int64]chan *frame),
		watchers: make(map[int64]chan Event),
		closed:   make(chan struct{}),
		readDone: make(chan struct{}),
	}

	if err := c.authenticate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()

	c.logger.Info().Str("endpoint", cfg.Endpoint).Msg("registry connection established")
	return c, nil
}

// authenticate runs the token handshake: the server opens with
// auth_required, the client answers with the token, and the server settles
// the session with auth_ok or auth_invalid.
func (c *Client) authenticate(ctx context.Context) error {
	deadline := time.Now().Add(c.config.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer func() {
		_ = c.conn.SetReadDeadline(time.Time{})
	}()

	var hello frame
	if err := c.conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("failed to read auth challenge: %w", err)
	}
	if hello.Type != frameAuthRequired {
		return fmt.Errorf("unexpected frame %q before auth", hello.Type)
	}

	if err := c.conn.WriteJSON(authRequest{Type: frameAuth, AccessToken: c.config.Token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var verdict frame
	if err := c.conn.ReadJSON(&verdict); err != nil {
		return fmt.Errorf("failed to read auth result: %w", err)
	}
	switch verdict.Type {
	case frameAuthOK:
		return nil
	case frameAuthInvalid:
		return fmt.Errorf("authentication rejected: %s", verdict.Message)
	default:
		return fmt.Errorf("unexpected auth response %q", verdict.Type)
	}
}

// readLoop owns the connection read side. Results and pongs go to the
// round trip waiting on the matching id, events go to the subscribed
// watcher. It runs until the connection dies or Close is called.
func (c *Client) readLoop() {
	defer close(c.readDone)

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warn().Err(err).Msg("registry connection lost")
			}
			c.shutdown()
			return
		}

		switch f.Type {
		case frameResult, framePong:
			c.deliverResult(&f)
		case frameEvent:
			c.deliverEvent(&f)
		default:
			c.logger.Debug().Str("type", f.Type).Msg("ignoring unexpected frame")
		}
	}
}

func (c *Client) deliverResult(f *frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()

	if ok {
		ch <- f
	}
}

func (c *Client) deliverEvent(f *frame) {
	var ev registryEvent
	if err := json.Unmarshal(f.Event, &ev); err != nil {
		c.logger.Warn().Err(err).Msg("failed to decode registry event")
		return
	}

	c.mu.Lock()
	ch, ok := c.watchers[f.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- Event{Action: ev.Data.Action, EntityID: ev.Data.EntityID, OldEntityID: ev.Data.OldEntityID}:
	default:
		c.logger.Warn().Str("entity_id", ev.Data.EntityID).Msg("registry event dropped, watcher is not keeping up")
	}
}

// shutdown fails the in-flight round trips and closes watcher channels so
// consumers observe the disconnect instead of hanging.
func (c *Client) shutdown() {
	c.mu.Lock()
	pending := c.pending
	watchers := c.watchers
	c.pending = make(map[int64]chan *frame)
	c.watchers = make(map[int64]chan Event)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, ch := range watchers {
		close(ch)
	}
}

// roundTrip sends one command and waits for the result frame with the
// matching id.
func (c *Client) roundTrip(ctx context.Context, cmdType string, payload map[string]interface{}) (*frame, error) {
	select {
	case <-c.closed:
		return nil, fmt.Errorf("client is closed")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	cmd := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		cmd[k] = v
	}
	cmd["type"] = cmdType

	ch := make(chan *frame, 1)
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()
	cmd["id"] = id

	c.writeMu.Lock()
	err := c.conn.WriteJSON(cmd)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to send %s: %w", cmdType, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", cmdType, ctx.Err())
	case f, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed waiting for %s result", cmdType)
		}
		return f, nil
	}
}

// ListAll returns the ids of every entity the registry currently holds.
func (c *Client) ListAll(ctx context.Context) ([]string, error) {
	f, err := c.roundTrip(ctx, cmdListEntities, nil)
	if err != nil {
		return nil, err
	}
	if !f.Success {
		return nil, resultError(cmdListEntities, f.Error)
	}

	var entries []registryEntry
	if err := json.Unmarshal(f.Result, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode entity list: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.EntityID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Get returns the registry entry for id, or (nil, nil) when the registry
// does not know it.
func (c *Client) Get(ctx context.Context, id string) (*registry.Entity, error) {
	f, err := c.roundTrip(ctx, cmdGetEntity, map[string]interface{}{"entity_id": id})
	if err != nil {
		return nil, err
	}
	if !f.Success {
		if f.Error != nil && f.Error.Code == errCodeNotFound {
			return nil, nil
		}
		return nil, resultError(cmdGetEntity, f.Error)
	}

	var entry registryEntry
	if err := json.Unmarshal(f.Result, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode entity %s: %w", id, err)
	}
	return entry.toEntity(), nil
}

// Remove deletes the entity from the registry. Unknown entities are
// tolerated so removal stays idempotent.
func (c *Client) Remove(ctx context.Context, id string) error {
	f, err := c.roundTrip(ctx, cmdRemoveEntity, map[string]interface{}{"entity_id": id})
	if err != nil {
		return err
	}
	if !f.Success {
		if f.Error != nil && f.Error.Code == errCodeNotFound {
			return nil
		}
		return resultError(cmdRemoveEntity, f.Error)
	}
	return nil
}

// Update applies a partial update to the entity. Disabling hands the
// entity to the user scope; enabling sends a null disabled_by so the
// registry reactivates it.
func (c *Client) Update(ctx context.Context, id string, update registry.EntityUpdate) error {
	payload := map[string]interface{}{"entity_id": id}
	if update.Name != nil {
		payload["name"] = *update.Name
	}
	if update.Disabled != nil {
		if *update.Disabled {
			payload["disabled_by"] = "user"
		} else {
			payload["disabled_by"] = nil
		}
	}
	for k, v := range update.Attributes {
		payload[k] = v
	}

	f, err := c.roundTrip(ctx, cmdUpdateEntity, payload)
	if err != nil {
		return err
	}
	if !f.Success {
		if f.Error != nil && f.Error.Code == errCodeNotFound {
			return fmt.Errorf("entity not found: %s", id)
		}
		return resultError(cmdUpdateEntity, f.Error)
	}
	return nil
}

// WatchRegistry subscribes to entity registry change events. The returned
// channel closes when the connection drops or the client is closed.
func (c *Client) WatchRegistry(ctx context.Context) (<-chan Event, error) {
	select {
	case <-c.closed:
		return nil, fmt.Errorf("client is closed")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	// The watcher is registered before the command goes out so events
	// arriving right behind the subscription result are not lost.
	respCh := make(chan *frame, 1)
	events := make(chan Event, eventBuffer)
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = respCh
	c.watchers[id] = events
	c.mu.Unlock()

	cmd := map[string]interface{}{
		"id":         id,
		"type":       cmdSubscribeEvents,
		"event_type": eventRegistryUpdated,
	}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(cmd)
	c.writeMu.Unlock()
	if err != nil {
		c.dropSubscription(id)
		return nil, fmt.Errorf("failed to send %s: %w", cmdSubscribeEvents, err)
	}

	select {
	case <-ctx.Done():
		c.dropSubscription(id)
		return nil, fmt.Errorf("%s: %w", cmdSubscribeEvents, ctx.Err())
	case f, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("connection closed waiting for subscription result")
		}
		if !f.Success {
			c.dropSubscription(id)
			return nil, resultError(cmdSubscribeEvents, f.Error)
		}
		c.logger.Debug().Int64("subscription_id", id).Msg("registry event subscription active")
		return events, nil
	}
}

func (c *Client) dropSubscription(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	delete(c.watchers, id)
	c.mu.Unlock()
}

// Ping verifies the connection end to end.
func (c *Client) Ping(ctx context.Context) error {
	f, err := c.roundTrip(ctx, framePing, nil)
	if err != nil {
		return err
	}
	if f.Type != framePong {
		return fmt.Errorf("unexpected ping response %q", f.Type)
	}
	return nil
}

// Connected reports whether the read loop is still attached to a live
// connection.
func (c *Client) Connected() bool {
	select {
	case <-c.readDone:
		return false
	default:
	}
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Close tears down the connection. In-flight round trips fail and watcher
// channels close.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
		<-c.readDone
	})
	return err
}

func resultError(op string, apiErr *apiError) error {
	if apiErr == nil {
		return fmt.Errorf("%s failed", op)
	}
	return fmt.Errorf("%s failed: %s (%s)", op, apiErr.Message, apiErr.Code)
}
