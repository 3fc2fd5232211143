// Package discord is the thin boundary to the chat platform: entity types,
// a read-only REST client for the startup polling passes and a gateway
// consumer that turns push dispatches into typed events on a channel.
//
// The watcher's decision logic never sees wire payloads; it consumes the
// parsed entities defined here.
package discord
