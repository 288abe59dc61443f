// Package memory provides an in-process implementation of storage.Store.
//
// All state lives in maps guarded by a single RWMutex. The conditional
// consume of authorization codes runs under the write lock, so exactly one
// of any number of concurrent exchanges of the same code succeeds.
//
// A background loop drops expired codes and expired or revoked tokens. Call
// Stop when the store is no longer needed:
//
//	store := memory.New()
//	defer store.Stop()
//
// State is lost on restart; use storage/postgres for durable deployments.
package memory
