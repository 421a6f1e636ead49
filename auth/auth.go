// Package auth provides session credential providers for the Guilded
// web API.  Guilded authenticates browser sessions with the
// hmac_signed_session cookie;  a provider wraps that cookie value and
// produces an http.Client that carries it.
package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Type is the auth type.
type Type uint8

// All supported auth types.
const (
	TypeInvalid Type = iota
	TypeValue
	TypeEnv
	TypeFile
)

// Provider is the Guilded authentication provider.
type Provider interface {
	// SessionToken returns the hmac_signed_session cookie value.
	SessionToken() string
	// Cookies returns the session cookies for the guilded.gg domain.
	Cookies() []*http.Cookie
	// Type returns the auth type.
	Type() Type
	// Validate returns an error if the credential is missing.  An
	// expired credential is only detected by the first 401 from the
	// API.
	Validate() error
	// HTTPClient returns an http.Client with the session cookies set.
	HTTPClient() (*http.Client, error)
}

var ErrNoToken = errors.New("no session token")

type simpleProvider struct {
	Token string `json:"token"`
}

func (s simpleProvider) Validate() error {
	if s.Token == "" {
		return ErrNoToken
	}
	return nil
}

func (s simpleProvider) SessionToken() string {
	return s.Token
}

// Load deserialises the credential from r.  It returns ErrNoToken if
// the credential is missing.
func Load(r io.Reader) (ValueAuth, error) {
	dec := json.NewDecoder(r)
	var s simpleProvider
	if err := dec.Decode(&s); err != nil {
		return ValueAuth{}, err
	}
	return ValueAuth{s}, s.Validate()
}

// Save serialises the credential to w.  It exists for the caller's
// convenience;  the export run itself never persists the session.
func Save(w io.Writer, p Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s := simpleProvider{Token: p.SessionToken()}
	return json.NewEncoder(w).Encode(s)
}
