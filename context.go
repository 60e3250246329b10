package goSession

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type preAuthSessionContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is recorded on
// sessions created with this context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithPreAuthSession marks the session the caller held before logging in.
// CreateSession expires it on success so its id cannot be fixed by an attacker.
func WithPreAuthSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, preAuthSessionContextKey{}, sessionID)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func preAuthSessionFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(preAuthSessionContextKey{}).(string)
	return id
}
