// Package cache provides the two cache tiers used by the orchestrator.
// VolatileCache is a bounded in-memory store with per-entry expiry, and
// DurableCache persists serialized entries in a storage.Store so they
// survive a process restart.
package cache
