package auth

import (
	"net/http"
	"time"

	"github.com/rusq/chttp/v2"

	"github.com/guildump/guildump/internal/guilded"
)

// cookieDomain is the domain the session cookies are set for.
const cookieDomain = ".guilded.gg"

var _ Provider = ValueAuth{}

// ValueAuth is the provider that holds a literal hmac_signed_session
// value, i.e. one pasted from the browser's cookie storage.
type ValueAuth struct {
	simpleProvider
}

// NewValueAuth returns a ValueAuth for the given session token.
func NewValueAuth(token string) (ValueAuth, error) {
	if token == "" {
		return ValueAuth{}, ErrNoToken
	}
	return ValueAuth{simpleProvider{Token: token}}, nil
}

func (ValueAuth) Type() Type {
	return TypeValue
}

func (c ValueAuth) Cookies() []*http.Cookie {
	return []*http.Cookie{
		makeCookie("hmac_signed_session", c.Token),
		makeCookie("authenticated", "true"),
	}
}

func (c ValueAuth) HTTPClient() (*http.Client, error) {
	return chttp.New(guilded.SiteURL, c.Cookies())
}

func makeCookie(key, val string) *http.Cookie {
	return &http.Cookie{
		Name:    key,
		Value:   val,
		Path:    "/",
		Domain:  cookieDomain,
		Expires: time.Now().AddDate(10, 0, 0).UTC(),
		Secure:  true,
	}
}
