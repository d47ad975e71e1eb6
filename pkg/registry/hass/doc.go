// Package hass implements registry.Store against the Home Assistant
// websocket API. The client authenticates with a long-lived access token,
// multiplexes concurrent commands over a single connection by message id,
// and exposes the entity registry event stream through WatchRegistry.
package hass
