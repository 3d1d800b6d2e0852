package session

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/jrsteele09/choirapp/internal/errors"
	"github.com/jrsteele09/choirapp/securestore"
	pkgerrors "github.com/pkg/errors"
)

// PendingRequest is the state of an authorization request that is waiting for its
// redirect. It is persisted so it survives the user-agent round trip, and there is at
// most one per client: starting a new login replaces it.
type PendingRequest struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
}

// pendingRepo persists the single pending request of a client.
type pendingRepo struct {
	store securestore.Store
	key   string
}

func (r pendingRepo) Upsert(p *PendingRequest) error {
	if p == nil || p.State == "" {
		return errors.New("pending request state cannot be empty")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return pkgerrors.Wrap(err, "pendingRepo.Upsert json.Marshal")
	}
	if err := r.store.Set(r.key, string(b)); err != nil {
		return errors.Join(errors.ErrStore, err)
	}
	return nil
}

// Get returns the pending request, ErrPendingRequestNotFound if there is none.
func (r pendingRepo) Get() (*PendingRequest, error) {
	raw, err := r.store.Get(r.key)
	if errors.Is(err, securestore.ErrNotFound) {
		return nil, errors.ErrPendingRequestNotFound
	}
	if err != nil {
		return nil, errors.Join(errors.ErrStore, err)
	}
	var p PendingRequest
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, errors.Join(errors.ErrPendingRequestNotFound, err)
	}
	return &p, nil
}

func (r pendingRepo) Delete() error {
	if err := r.store.Remove(r.key); err != nil {
		return errors.Join(errors.ErrStore, err)
	}
	return nil
}

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
