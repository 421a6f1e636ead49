package auth

import "os"

// GuildedTokenEnv is the environment variable the env provider reads
// the session token from.
const GuildedTokenEnv = "GUILDED_TOKEN"

var _ Provider = EnvAuth{}

// EnvAuth is the provider that reads the session token from the
// environment.
type EnvAuth struct {
	ValueAuth
}

// NewEnvAuth returns an EnvAuth.  The environment is read at
// construction time.
func NewEnvAuth() (EnvAuth, error) {
	v, err := NewValueAuth(os.Getenv(GuildedTokenEnv))
	if err != nil {
		return EnvAuth{}, err
	}
	return EnvAuth{ValueAuth: v}, nil
}

func (EnvAuth) Type() Type {
	return TypeEnv
}
