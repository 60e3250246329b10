// Package session stores server-side sessions in Redis.
//
// # Layout
//
// Each session is a hash keyed by its id. A per-principal sorted set, scored
// by a global insertion sequence, indexes the live sessions of one principal,
// and a global set names every principal that has an index. Physical deletion
// is left to Redis expiry, refreshed to the max-inactive interval on every touch.
//
// # Atomicity
//
// Creation with the concurrency cap, touch, single expiry and principal-wide
// expiry each run as one Lua script, so several service instances can share a
// store without in-process locks. An expired session is a tombstone: no script
// ever clears the expired flag, so it cannot be rehydrated.
//
// # Architecture boundaries
//
// This package does not load principals, check roles or decide who may
// invalidate whose session. Those decisions belong to the engine.
package session
