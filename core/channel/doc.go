// Package channel provides named pub/sub channels with authorization and
// presence tracking.
//
// Channels come in three types: public (anyone may subscribe), private
// (subscription gated by an authorizer), and presence (private plus
// reference-counted per-user membership). The Registry owns channel
// instances, resolves a channel name to its type via ordered glob rules,
// and evaluates authorizers with a deterministic most-specific-pattern-wins
// rule.
//
// # Authorization
//
// Authorizers are predicates bound to glob patterns over dot-separated
// channel names:
//
//	registry := channel.NewRegistry(
//	    channel.WithTypeRule("user.*", channel.TypePrivate),
//	)
//
//	registry.Authorize("user.*", func(ctx context.Context, conn channel.Conn, name string) bool {
//	    return "user."+conn.UserID() == name
//	})
//
// When several patterns match a channel name, the pattern with the most
// literal (non-wildcard) runes wins; ties break toward the earliest
// registration. A private or presence channel with no matching authorizer
// denies every subscription — the registry fails closed.
//
// # Presence
//
// Presence channels count connections per user, so a user with multiple
// tabs or devices joins once and leaves once:
//
//	ch := registry.Get("presence.room.1")
//	first := ch.JoinPresence("u1", nil) // true: emit member.joined
//	_ = ch.JoinPresence("u1", nil)      // false: second tab, no event
//	_ = ch.LeavePresence("u1")          // false: one tab remains
//	last := ch.LeavePresence("u1")      // true: emit member.left
//
// The presence map is owned by its channel; no global state is involved.
package channel
