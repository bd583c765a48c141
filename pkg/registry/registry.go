// Package registry holds the gateway process's in-memory index of
// connected devices (C4). It is deliberately thin: the authoritative
// record of a device's existence is the Device custom resource; this
// package only tracks which of those devices currently have a live,
// authenticated session on this gateway process.
package registry

import (
	"encoding/hex"
	"errors"
	"sync"
)

// ErrNotFound is returned when a lookup finds no matching entry.
var ErrNotFound = errors.New("registry: not found")

// SessionHandle is the minimal surface the registry needs from a device
// session: identity and a way to close it. pkg/session.Session implements
// this.
type SessionHandle interface {
	DeviceID() string
	PublicKeyHex() string
	Close(reason string)
}

// Registry is the process-wide DeviceId -> SessionHandle index with a
// PublicKey -> DeviceId secondary index (§3 "Registry"). A single mutex
// serializes inserts/removals; this gateway's connection volume (per
// Gateway CR's max_devices, typically in the low thousands) does not
// warrant per-key sharding.
type Registry struct {
	mu        sync.RWMutex
	byDevice  map[string]SessionHandle
	byPubKey  map[string]string // public key hex -> device id
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byDevice: make(map[string]SessionHandle),
		byPubKey: make(map[string]string),
	}
}

// PublicKeyHex returns the canonical secondary-index key for a raw SPKI
// byte sequence.
func PublicKeyHex(publicKey []byte) string {
	return hex.EncodeToString(publicKey)
}

// InsertOrReplace registers handle as the current session for its device
// id, displacing and closing any prior session for the same device id —
// the atomic replace required by I2. It always replaces regardless of
// whether an existing entry is present, because the gateway only calls
// this once a new session has already reached Authenticated, at which
// point it must win.
func (r *Registry) InsertOrReplace(handle SessionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deviceID := handle.DeviceID()
	if prior, ok := r.byDevice[deviceID]; ok && prior != handle {
		prior.Close("superseded by new session")
		if prior.PublicKeyHex() != handle.PublicKeyHex() {
			delete(r.byPubKey, prior.PublicKeyHex())
		}
	}
	r.byDevice[deviceID] = handle
	r.byPubKey[handle.PublicKeyHex()] = deviceID
}

// LookupByID returns the current session for a device id.
func (r *Registry) LookupByID(deviceID string) (SessionHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byDevice[deviceID]
	return h, ok
}

// LookupByPublicKey returns the current session bound to a raw public key.
func (r *Registry) LookupByPublicKey(publicKey []byte) (SessionHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	deviceID, ok := r.byPubKey[PublicKeyHex(publicKey)]
	if !ok {
		return nil, false
	}
	h, ok := r.byDevice[deviceID]
	return h, ok
}

// Remove deletes the entry for deviceID, but only if the stored handle is
// still exactly handle — a session that has already been superseded by
// InsertOrReplace must not remove the entry belonging to its successor.
func (r *Registry) Remove(deviceID string, handle SessionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byDevice[deviceID]
	if !ok || current != handle {
		return
	}
	delete(r.byDevice, deviceID)
	delete(r.byPubKey, handle.PublicKeyHex())
}

// Count returns the number of currently registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDevice)
}

// Snapshot returns a copy of every currently registered handle, used by
// the heartbeat watchdog (C11) to scan for stale sessions without holding
// the registry lock during the scan.
func (r *Registry) Snapshot() []SessionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionHandle, 0, len(r.byDevice))
	for _, h := range r.byDevice {
		out = append(out, h)
	}
	return out
}
