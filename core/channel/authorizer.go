package channel

import (
	"context"
	"fmt"
	"sync"
)

// Conn is the read-only connection view handed to authorizers.
// The transport owns the live connection; authorizers only inspect it.
type Conn interface {
	ID() string
	UserID() string
	Metadata() map[string]any
}

// AuthorizerFunc decides whether a connection may subscribe to the concrete
// channel name. It is evaluated at most once per subscribe attempt.
type AuthorizerFunc func(ctx context.Context, conn Conn, channelName string) bool

type authorizerRule struct {
	pattern     string
	fn          AuthorizerFunc
	specificity int
	order       int
}

// Authorizers is an ordered table of glob patterns bound to predicates.
// Lookup uses a deterministic most-specific-pattern-wins rule: the matching
// pattern with the most literal runes is selected; ties break toward the
// earliest registration.
type Authorizers struct {
	mu    sync.RWMutex
	rules []authorizerRule
}

// NewAuthorizers creates an empty authorizer table.
func NewAuthorizers() *Authorizers {
	return &Authorizers{}
}

// Register binds a predicate to a glob pattern over dot-separated channel
// names, e.g. "user.*" or "presence.room.**".
func (a *Authorizers) Register(pattern string, fn AuthorizerFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: nil predicate for pattern %q", ErrInvalidAuthorizer, pattern)
	}
	if !validPattern(pattern) {
		return fmt.Errorf("%w: invalid pattern %q", ErrInvalidAuthorizer, pattern)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.rules = append(a.rules, authorizerRule{
		pattern:     pattern,
		fn:          fn,
		specificity: specificity(pattern),
		order:       len(a.rules),
	})
	return nil
}

// Match returns the predicate for the most specific pattern matching the
// channel name, or false when no pattern matches.
func (a *Authorizers) Match(channelName string) (AuthorizerFunc, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var best *authorizerRule
	for i := range a.rules {
		rule := &a.rules[i]
		if !matchPattern(rule.pattern, channelName) {
			continue
		}
		if best == nil ||
			rule.specificity > best.specificity ||
			(rule.specificity == best.specificity && rule.order < best.order) {
			best = rule
		}
	}

	if best == nil {
		return nil, false
	}
	return best.fn, true
}

// Len returns the number of registered authorizers.
func (a *Authorizers) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.rules)
}
