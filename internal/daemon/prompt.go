package daemon

import (
	"context"
	"sync"

	"printlink/internal/session"
)

// credential carries a password supplied with one select request. The daemon
// has no terminal, so the prompt answers from it once and then abandons,
// letting the client prompt and retry.
type credential struct {
	mu       sync.Mutex
	password string
	used     bool
	rejected bool
}

type credentialKey struct{}

func withCredential(ctx context.Context, password string) (context.Context, *credential) {
	cred := &credential{password: password}
	return context.WithValue(ctx, credentialKey{}, cred), cred
}

func promptFromContext(ctx context.Context, req session.PromptRequest) (string, bool, error) {
	cred, ok := ctx.Value(credentialKey{}).(*credential)
	if !ok {
		return "", false, nil
	}
	cred.mu.Lock()
	defer cred.mu.Unlock()
	if cred.used && req.Rejected {
		cred.rejected = true
	}
	if cred.used || cred.password == "" {
		return "", false, nil
	}
	cred.used = true
	return cred.password, true, nil
}

// wasRejected reports whether the bridge refused a password during the request.
func (c *credential) wasRejected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}
