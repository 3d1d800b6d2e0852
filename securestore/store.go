// Package securestore persists OIDC session artifacts by key with encrypted-at-rest
// storage. It backs both the signed-in session and the pending authorization request.
package securestore

import "github.com/jrsteele09/choirapp/internal/errors"

// ErrNotFound is returned by Get when nothing is stored under the key.
var ErrNotFound = errors.ErrNotFound

// Store is a string key/value facility. Implementations must be safe for concurrent use.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// UserKey is the key of the persisted session for one client of one authority.
func UserKey(authority, clientID string) string {
	return "oidc.user:" + authority + ":" + clientID
}

// PendingKey is the key of the pending authorization request for a client.
func PendingKey(clientID string) string {
	return "oidc.pending:" + clientID
}
