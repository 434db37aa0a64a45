// Package noop admits every request as the anonymous caller. It backs
// auth type "none", where the admin endpoints are left open.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/kbqa/pkg/auth"
)

type Authenticator struct{}

var _ auth.Authenticator = Authenticator{}

func (Authenticator) Authenticate(context.Context, *http.Request) auth.AuthResult {
	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: &auth.Identity{Subject: auth.Anonymous, ServiceTier: auth.DefaultTier},
	}
}
