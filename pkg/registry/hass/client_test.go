package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/entwarden/entwarden/pkg/registry"
)

const testToken = "llat-warden-test"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeRegistry is an in-process websocket server speaking the entity
// registry protocol.
type fakeRegistry struct {
	token string
	srv   *httptest.Server

	mu      sync.Mutex
	entries map[string]*registryEntry
}

func newFakeRegistry(t *testing.T, entries ...*registryEntry) *fakeRegistry {
	t.Helper()
	f := &fakeRegistry{token: testToken, entries: make(map[string]*registryEntry)}
	for _, e := range entries {
		f.entries[e.EntityID] = e
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRegistry) endpoint() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRegistry) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"type": frameAuthRequired, "ha_version": "2024.6.0"}); err != nil {
		return
	}

	var auth authRequest
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.Type != frameAuth || auth.AccessToken != f.token {
		_ = conn.WriteJSON(map[string]interface{}{"type": frameAuthInvalid, "message": "invalid access token"})
		return
	}
	if err := conn.WriteJSON(map[string]interface{}{"type": frameAuthOK, "ha_version": "2024.6.0"}); err != nil {
		return
	}

	// One subscription per connection is all the tests need.
	var subID int64

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd map[string]json.RawMessage
		if err := json.Unmarshal(data, &cmd); err != nil {
			return
		}

		var id int64
		var typ, entityID string
		_ = json.Unmarshal(cmd["id"], &id)
		_ = json.Unmarshal(cmd["type"], &typ)
		_ = json.Unmarshal(cmd["entity_id"], &entityID)

		switch typ {
		case framePing:
			_ = conn.WriteJSON(map[string]interface{}{"id": id, "type": framePong})

		case cmdSubscribeEvents:
			subID = id
			writeResult(conn, id, nil)

		case cmdListEntities:
			f.mu.Lock()
			list := make([]*registryEntry, 0, len(f.entries))
			for _, e := range f.entries {
				list = append(list, e)
			}
			f.mu.Unlock()
			writeResult(conn, id, list)

		case cmdGetEntity:
			// The black hole entity never answers, for timeout tests.
			if entityID == "light.blackhole" {
				continue
			}
			f.mu.Lock()
			e, ok := f.entries[entityID]
			f.mu.Unlock()
			if !ok {
				writeError(conn, id, errCodeNotFound, "Entity not found")
				continue
			}
			writeResult(conn, id, e)

		case cmdRemoveEntity:
			f.mu.Lock()
			_, ok := f.entries[entityID]
			delete(f.entries, entityID)
			f.mu.Unlock()
			if !ok {
				writeError(conn, id, errCodeNotFound, "Entity not found")
				continue
			}
			writeResult(conn, id, nil)
			pushEvent(conn, subID, "remove", entityID)

		case cmdUpdateEntity:
			f.mu.Lock()
			e, ok := f.entries[entityID]
			if ok {
				if raw, present := cmd["name"]; present {
					_ = json.Unmarshal(raw, &e.Name)
				}
				if raw, present := cmd["disabled_by"]; present {
					if string(raw) == "null" {
						e.DisabledBy = nil
					} else {
						var by string
						_ = json.Unmarshal(raw, &by)
						e.DisabledBy = &by
					}
				}
			}
			f.mu.Unlock()
			if !ok {
				writeError(conn, id, errCodeNotFound, "Entity not found")
				continue
			}
			writeResult(conn, id, map[string]interface{}{"entity_entry": e})
			pushEvent(conn, subID, "update", entityID)

		default:
			writeError(conn, id, "unknown_command", fmt.Sprintf("unknown command %s", typ))
		}
	}
}

func writeResult(conn *websocket.Conn, id int64, result interface{}) {
	_ = conn.WriteJSON(map[string]interface{}{"id": id, "type": frameResult, "success": true, "result": result})
}

func writeError(conn *websocket.Conn, id int64, code, message string) {
	_ = conn.WriteJSON(map[string]interface{}{
		"id": id, "type": frameResult, "success": false,
		"error": map[string]string{"code": code, "message": message},
	})
}

func pushEvent(conn *websocket.Conn, subID int64, action, entityID string) {
	if subID == 0 {
		return
	}
	_ = conn.WriteJSON(map[string]interface{}{
		"id": subID, "type": frameEvent,
		"event": map[string]interface{}{
			"event_type": eventRegistryUpdated,
			"data":       map[string]string{"action": action, "entity_id": entityID},
		},
	})
}

func dialTestClient(t *testing.T, f *fakeRegistry) *Client {
	t.Helper()
	client, err := Dial(context.Background(), Config{Endpoint: f.endpoint(), Token: testToken}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func strptr(s string) *string {
	return &s
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid ws", Config{Endpoint: "ws://hass:8123/api/websocket", Token: "t"}, false},
		{"valid wss", Config{Endpoint: "wss://hass/api/websocket", Token: "t"}, false},
		{"missing endpoint", Config{Token: "t"}, true},
		{"http scheme", Config{Endpoint: "http://hass:8123", Token: "t"}, true},
		{"missing token", Config{Endpoint: "ws://hass:8123"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected valid config, got %v", err)
			}
		})
	}
}

func TestDialAuthenticates(t *testing.T) {
	f := newFakeRegistry(t)
	client := dialTestClient(t, f)

	if !client.Connected() {
		t.Error("expected client to report connected")
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestDialRejectsBadToken(t *testing.T) {
	f := newFakeRegistry(t)

	_, err := Dial(context.Background(), Config{Endpoint: f.endpoint(), Token: "wrong"}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected auth failure")
	}
	if !strings.Contains(err.Error(), "authentication rejected") {
		t.Errorf("expected rejection error, got %v", err)
	}
}

func TestDialRejectsInvalidConfig(t *testing.T) {
	_, err := Dial(context.Background(), Config{Endpoint: "http://hass:8123", Token: "t"}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected config error")
	}
}

func TestListAllSorted(t *testing.T) {
	f := newFakeRegistry(t,
		&registryEntry{EntityID: "sensor.b", Platform: "zwave"},
		&registryEntry{EntityID: "light.c", Platform: "hue"},
		&registryEntry{EntityID: "sensor.a", Platform: "hue"},
	)
	client := dialTestClient(t, f)

	ids, err := client.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(ids))
	}
	if ids[0] != "light.c" || ids[1] != "sensor.a" || ids[2] != "sensor.b" {
		t.Errorf("expected sorted IDs, got %v", ids)
	}
}

func TestGetConvertsEntry(t *testing.T) {
	f := newFakeRegistry(t, &registryEntry{
		EntityID:     "light.hallway_3",
		OriginalName: "Hallway Light 3",
		Platform:     "mqtt",
		DeviceID:     "device-9",
		UniqueID:     "uniq-1",
	})
	client := dialTestClient(t, f)

	e, err := client.Get(context.Background(), "light.hallway_3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if e == nil {
		t.Fatal("expected entity, got nil")
	}
	if e.ID != "light.hallway_3" || e.Platform != "mqtt" {
		t.Errorf("expected converted entity, got %+v", e)
	}
	if e.Name != "Hallway Light 3" {
		t.Errorf("expected name to fall back to original_name, got %q", e.Name)
	}
	if e.Disabled {
		t.Error("expected enabled entity")
	}
	if e.Attributes["device_id"] != "device-9" || e.Attributes["unique_id"] != "uniq-1" {
		t.Errorf("expected registry attributes, got %v", e.Attributes)
	}
}

func TestGetUnknownIsNilNil(t *testing.T) {
	f := newFakeRegistry(t)
	client := dialTestClient(t, f)

	e, err := client.Get(context.Background(), "sensor.ghost")
	if err != nil {
		t.Fatalf("unknown entity must not be an error, got %v", err)
	}
	if e != nil {
		t.Errorf("expected nil entity, got %+v", e)
	}
}

func TestGetDisabledEntity(t *testing.T) {
	f := newFakeRegistry(t, &registryEntry{
		EntityID:   "switch.porch",
		Name:       "Porch",
		Platform:   "zha",
		DisabledBy: strptr("integration"),
	})
	client := dialTestClient(t, f)

	e, err := client.Get(context.Background(), "switch.porch")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !e.Disabled || e.DisabledBy != "integration" {
		t.Errorf("expected disabled by integration, got %+v", e)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	f := newFakeRegistry(t, &registryEntry{EntityID: "sensor.a"})
	client := dialTestClient(t, f)
	ctx := context.Background()

	if err := client.Remove(ctx, "sensor.a"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := client.Remove(ctx, "sensor.a"); err != nil {
		t.Fatalf("second remove must be a no-op, got %v", err)
	}

	e, err := client.Get(ctx, "sensor.a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if e != nil {
		t.Errorf("expected removed entity, got %+v", e)
	}
}

func TestUpdateDisableEnable(t *testing.T) {
	f := newFakeRegistry(t, &registryEntry{EntityID: "light.porch", Name: "Porch", Platform: "hue"})
	client := dialTestClient(t, f)
	ctx := context.Background()

	disabled := true
	if err := client.Update(ctx, "light.porch", registry.EntityUpdate{Disabled: &disabled}); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	e, _ := client.Get(ctx, "light.porch")
	if !e.Disabled || e.DisabledBy != "user" {
		t.Errorf("expected disabled by user, got %+v", e)
	}

	enabled := false
	if err := client.Update(ctx, "light.porch", registry.EntityUpdate{Disabled: &enabled}); err != nil {
		t.Fatalf("re-enable failed: %v", err)
	}
	e, _ = client.Get(ctx, "light.porch")
	if e.Disabled || e.DisabledBy != "" {
		t.Errorf("expected enabled entity with empty disabled_by, got %+v", e)
	}
}

func TestUpdateRename(t *testing.T) {
	f := newFakeRegistry(t, &registryEntry{EntityID: "light.porch", Name: "Porch"})
	client := dialTestClient(t, f)
	ctx := context.Background()

	name := "Porch Light"
	if err := client.Update(ctx, "light.porch", registry.EntityUpdate{Name: &name}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	e, _ := client.Get(ctx, "light.porch")
	if e.Name != "Porch Light" {
		t.Errorf("expected renamed entity, got %q", e.Name)
	}
}

func TestUpdateUnknownEntity(t *testing.T) {
	f := newFakeRegistry(t)
	client := dialTestClient(t, f)

	name := "ghost"
	err := client.Update(context.Background(), "sensor.ghost", registry.EntityUpdate{Name: &name})
	if err == nil {
		t.Fatal("expected error updating unknown entity")
	}
	if !strings.Contains(err.Error(), "entity not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestWatchRegistryDeliversEvents(t *testing.T) {
	f := newFakeRegistry(t,
		&registryEntry{EntityID: "light.porch", Name: "Porch"},
		&registryEntry{EntityID: "sensor.a"},
	)
	client := dialTestClient(t, f)
	ctx := context.Background()

	events, err := client.WatchRegistry(ctx)
	if err != nil {
		t.Fatalf("WatchRegistry failed: %v", err)
	}

	disabled := true
	if err := client.Update(ctx, "light.porch", registry.EntityUpdate{Disabled: &disabled}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := client.Remove(ctx, "sensor.a"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	want := []Event{
		{Action: "update", EntityID: "light.porch"},
		{Action: "remove", EntityID: "sensor.a"},
	}
	for _, expected := range want {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed early")
			}
			if ev.Action != expected.Action || ev.EntityID != expected.EntityID {
				t.Errorf("expected event %+v, got %+v", expected, ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s event", expected.Action)
		}
	}
}

func TestWatchChannelClosesOnClose(t *testing.T) {
	f := newFakeRegistry(t)
	client := dialTestClient(t, f)

	events, err := client.WatchRegistry(context.Background())
	if err != nil {
		t.Fatalf("WatchRegistry failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel, got event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event channel to close")
	}
}

func TestCommandsFailAfterClose(t *testing.T) {
	f := newFakeRegistry(t)
	client := dialTestClient(t, f)

	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if client.Connected() {
		t.Error("expected disconnected client")
	}

	if _, err := client.ListAll(context.Background()); err == nil {
		t.Error("expected error after close")
	}
	if _, err := client.WatchRegistry(context.Background()); err == nil {
		t.Error("expected watch error after close")
	}
}

func TestConcurrentCommandsCorrelate(t *testing.T) {
	entries := make([]*registryEntry, 0, 8)
	for i := 0; i < 8; i++ {
		entries = append(entries, &registryEntry{
			EntityID: fmt.Sprintf("sensor.probe_%d", i),
			Name:     fmt.Sprintf("Probe %d", i),
			Platform: "mqtt",
		})
	}
	f := newFakeRegistry(t, entries...)
	client := dialTestClient(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("sensor.probe_%d", i)
				e, err := client.Get(context.Background(), id)
				if err != nil {
					t.Errorf("Get %s failed: %v", id, err)
					return
				}
				if e == nil || e.ID != id || e.Name != fmt.Sprintf("Probe %d", i) {
					t.Errorf("response correlation broken for %s: %+v", id, e)
				}
			}(i)
		}
	}
	wg.Wait()
}

func TestCommandTimeout(t *testing.T) {
	f := newFakeRegistry(t)
	client, err := Dial(context.Background(), Config{
		Endpoint:       f.endpoint(),
		Token:          testToken,
		CommandTimeout: 100 * time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	_, err = client.Get(context.Background(), "light.blackhole")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
