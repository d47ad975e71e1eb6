package hass

import (
	"encoding/json"

	"github.com/entwarden/entwarden/pkg/registry"
)

// Frame types exchanged on the websocket.
const (
	frameAuthRequired = "auth_required"
	frameAuth         = "auth"
	frameAuthOK       = "auth_ok"
	frameAuthInvalid  = "auth_invalid"
	frameResult       = "result"
	frameEvent        = "event"
	framePing         = "ping"
	framePong         = "pong"
)

// Entity registry commands.
const (
	cmdListEntities    = "config/entity_registry/list"
	cmdGetEntity       = "config/entity_registry/get"
	cmdRemoveEntity    = "config/entity_registry/remove"
	cmdUpdateEntity    = "config/entity_registry/update"
	cmdSubscribeEvents = "subscribe_events"

	eventRegistryUpdated = "entity_registry_updated"

	errCodeNotFound = "not_found"
)

// frame is a single inbound message. One shape covers the auth handshake,
// command results, pongs, and subscription events.
type frame struct {
	ID        int64           `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   bool            `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *apiError       `json:"error,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
	Message   string          `json:"message,omitempty"`
	HAVersion string          `json:"ha_version,omitempty"`
}

// apiError is the error object a failed result carries.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// authRequest answers the server's auth_required challenge.
type authRequest struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// registryEntry is an entity registry row as the API reports it.
type registryEntry struct {
	EntityID     string  `json:"entity_id"`
	Name         string  `json:"name"`
	OriginalName string  `json:"original_name"`
	Platform     string  `json:"platform"`
	DeviceID     string  `json:"device_id"`
	UniqueID     string  `json:"unique_id"`
	AreaID       string  `json:"area_id"`
	DisabledBy   *string `json:"disabled_by"`
}

// toEntity converts a wire entry into the registry surface type. The
// registry reports an entity as disabled by carrying a non-null
// disabled_by scope.
func (e *registryEntry) toEntity() *registry.Entity {
	name := e.Name
	if name == "" {
		name = e.OriginalName
	}

	ent := &registry.Entity{
		ID:       e.EntityID,
		Name:     name,
		Platform: e.Platform,
	}
	if e.DisabledBy != nil {
		ent.Disabled = true
		ent.DisabledBy = *e.DisabledBy
	}

	attrs := make(map[string]interface{})
	if e.DeviceID != "" {
		attrs["device_id"] = e.DeviceID
	}
	if e.UniqueID != "" {
		attrs["unique_id"] = e.UniqueID
	}
	if e.AreaID != "" {
		attrs["area_id"] = e.AreaID
	}
	if len(attrs) > 0 {
		ent.Attributes = attrs
	}
	return ent
}

// Event is an entity registry change pushed by the server.
type Event struct {
	// Action is create, update or remove.
	Action string

	// EntityID is the entity the change applies to.
	EntityID string

	// OldEntityID is set when an update renamed the entity.
	OldEntityID string
}

// registryEvent is the wire shape of an entity_registry_updated event.
type registryEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		Action      string `json:"action"`
		EntityID    string `json:"entity_id"`
		OldEntityID string `json:"old_entity_id"`
	} `json:"data"`
}
