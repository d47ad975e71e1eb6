// Package registry defines the external entity registry surface the warden
// manages entities through. The registry is owned by the external system;
// the warden only reads it, removes entities from it, and applies targeted
// updates. Memory is the in-process implementation used by tests and
// standalone deployments; the hass subpackage talks to a live Home
// Assistant instance over its websocket API.
package registry
