package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

type typeRule struct {
	pattern string
	typ     Type
}

// Registry owns channel instances and resolves a channel name to its type.
// Channels are created lazily on first use and removed when they empty out.
//
// Type resolution walks the registered rules in order; the first matching
// pattern wins. The built-in defaults ("private.**" and "presence.**") are
// evaluated after user rules, and anything unmatched is public.
type Registry struct {
	mu          sync.RWMutex
	channels    map[string]*Channel
	typeRules   []typeRule
	authorizers *Authorizers
	logger      *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTypeRule classifies channels matching the glob pattern as the given
// type. Rules are evaluated in registration order before the built-in
// "private.**" and "presence.**" defaults.
func WithTypeRule(pattern string, typ Type) RegistryOption {
	return func(r *Registry) {
		if !validPattern(pattern) {
			return
		}
		switch typ {
		case TypePublic, TypePrivate, TypePresence:
			r.typeRules = append(r.typeRules, typeRule{pattern: pattern, typ: typ})
		}
	}
}

// WithRegistryLogger configures structured logging for the registry.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a channel registry.
//
// Example:
//
//	registry := channel.NewRegistry(
//	    channel.WithTypeRule("user.*", channel.TypePrivate),
//	    channel.WithTypeRule("room.**", channel.TypePresence),
//	)
//	registry.Authorize("user.*", func(ctx context.Context, conn channel.Conn, name string) bool {
//	    return "user."+conn.UserID() == name
//	})
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		channels:    make(map[string]*Channel),
		authorizers: NewAuthorizers(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(r)
	}

	// Conventional prefixes resolve after any user-supplied rules.
	r.typeRules = append(r.typeRules,
		typeRule{pattern: "private.**", typ: TypePrivate},
		typeRule{pattern: "presence.**", typ: TypePresence},
	)

	return r
}

// Authorize registers an authorizer predicate for channels matching the glob
// pattern. See Authorizers for the most-specific-pattern-wins resolution rule.
func (r *Registry) Authorize(pattern string, fn AuthorizerFunc) error {
	return r.authorizers.Register(pattern, fn)
}

// TypeOf resolves the channel type for a name.
func (r *Registry) TypeOf(name string) Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.typeRules {
		if matchPattern(rule.pattern, name) {
			return rule.typ
		}
	}
	return TypePublic
}

// Get returns the channel for the name, creating it on first use.
func (r *Registry) Get(name string) *Channel {
	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if ok {
		return ch
	}

	typ := r.TypeOf(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[name]; ok {
		return ch
	}

	ch = newChannel(name, typ)
	r.channels[name] = ch
	r.logger.Debug("channel created",
		slog.String("channel", name),
		slog.String("type", string(typ)))
	return ch
}

// Lookup returns the channel for the name without creating it.
func (r *Registry) Lookup(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Purge removes the channel if it has no subscribers or present members.
func (r *Registry) Purge(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[name]; ok && ch.Empty() {
		delete(r.channels, name)
		r.logger.Debug("channel purged", slog.String("channel", name))
	}
}

// Names returns a snapshot of the names of all live channels.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// CheckAccess runs the authorization policy for one subscribe attempt.
// Public channels always pass. Private and presence channels require a
// matching authorizer that returns true; a missing authorizer denies the
// subscription (fail closed). The selected authorizer is invoked exactly once.
func (r *Registry) CheckAccess(ctx context.Context, conn Conn, name string) error {
	typ := r.TypeOf(name)
	if typ == TypePublic {
		return nil
	}

	fn, ok := r.authorizers.Match(name)
	if !ok {
		r.logger.Debug("no authorizer matched, denying by default",
			slog.String("channel", name),
			slog.String("connection_id", conn.ID()))
		return fmt.Errorf("%w: no authorizer for channel %q", ErrAuthorizationDenied, name)
	}

	if !fn(ctx, conn, name) {
		return fmt.Errorf("%w: channel %q", ErrAuthorizationDenied, name)
	}
	return nil
}
