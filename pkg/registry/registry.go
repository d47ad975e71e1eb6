package registry

import "context"

// Entity is a single entry in the external registry.
type Entity struct {
	// ID is the registry-wide entity identifier.
	ID string `json:"id"`

	// Name is the human-facing entity name.
	Name string `json:"name,omitempty"`

	// Platform is the integration that provides the entity.
	Platform string `json:"platform,omitempty"`

	// Disabled reports whether the entity is currently disabled.
	Disabled bool `json:"disabled"`

	// DisabledBy names what disabled the entity (user, integration, ...),
	// empty when the entity is enabled.
	DisabledBy string `json:"disabled_by,omitempty"`

	// Attributes carries registry-specific entity metadata.
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// EntityUpdate is a partial update applied to a registry entity. Nil fields
// are left untouched.
type EntityUpdate struct {
	// Name replaces the entity name when set.
	Name *string `json:"name,omitempty"`

	// Disabled enables or disables the entity when set.
	Disabled *bool `json:"disabled,omitempty"`

	// Attributes are merged over the entity attributes when set.
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Store is the registry access surface the warden operates through. Every
// implementation must make Get report unknown entities as (nil, nil) and
// keep Remove idempotent: removing an absent entity is a no-op, not an
// error. Errors are reserved for transport and registry failures.
type Store interface {
	// ListAll returns the IDs of every entity currently in the registry.
	ListAll(ctx context.Context) ([]string, error)

	// Get returns the entity with the given ID, or (nil, nil) when the
	// registry does not know it.
	Get(ctx context.Context, id string) (*Entity, error)

	// Remove deletes the entity from the registry. Removing an entity the
	// registry does not know succeeds silently.
	Remove(ctx context.Context, id string) error

	// Update applies a partial update to the entity. Updating an unknown
	// entity is an error.
	Update(ctx context.Context, id string, update EntityUpdate) error
}
