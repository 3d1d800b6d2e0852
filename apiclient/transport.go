// Package apiclient talks to the choir REST backend with the signed-in user's token.
package apiclient

import (
	"net/http"
)

// TokenSource supplies the current access token; "" means signed out.
type TokenSource interface {
	AccessToken() string
}

// TokenSourceFunc adapts a function to a TokenSource.
type TokenSourceFunc func() string

func (f TokenSourceFunc) AccessToken() string {
	return f()
}

// BearerTransport authorizes every request with the token source's access token. A
// 401 response is reported to OnUnauthorized and returned as is; the request is not
// replayed.
type BearerTransport struct {
	Base           http.RoundTripper
	Source         TokenSource
	OnUnauthorized func(req *http.Request)
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())
	if r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/json")
	}
	if t.Source != nil {
		if token := t.Source.AccessToken(); token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.base().RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && t.OnUnauthorized != nil {
		t.OnUnauthorized(r)
	}
	return resp, nil
}

func (t *BearerTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
