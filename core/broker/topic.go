package broker

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultDeadLetterPrefix is prepended to a topic to derive its dead-letter
// destination.
const DefaultDeadLetterPrefix = "dlq."

// Route is the physical destination a channel resolves to on a log-based
// broker. PartitionKey is always the channel name, so the stable hash in
// PartitionFor sends every message for one channel to the same partition —
// which is what preserves per-channel ordering across a shared topic.
type Route struct {
	Topic        string
	PartitionKey string
	Partitions   int
}

// Strategy maps a logical channel name to a physical topic and partition
// key. One physical topic per channel does not scale past a small channel
// cardinality; grouped strategies bound the topic count.
type Strategy interface {
	Resolve(channel string) (Route, error)
}

// PerChannelStrategy maps every channel to its own topic. Acceptable only
// when the number of distinct channels is small.
type PerChannelStrategy struct {
	Prefix     string
	Partitions int
}

// Resolve returns prefix+sanitize(channel) as the topic.
func (s PerChannelStrategy) Resolve(channel string) (Route, error) {
	if channel == "" {
		return Route{}, fmt.Errorf("%w: empty channel name", ErrNoRoute)
	}

	partitions := s.Partitions
	if partitions <= 0 {
		partitions = 1
	}

	return Route{
		Topic:        s.Prefix + SanitizeTopic(channel),
		PartitionKey: channel,
		Partitions:   partitions,
	}, nil
}

// GroupRule binds a glob pattern over channel names to a shared topic.
type GroupRule struct {
	Pattern    string
	Topic      string
	Partitions int
}

// GroupedStrategy shares topics across many channels: each channel is
// matched against the ordered rule list and unmatched channels fall back to
// the default route. The partition key is the channel name in every case.
type GroupedStrategy struct {
	rules             []GroupRule
	defaultTopic      string
	defaultPartitions int
}

// NewGroupedStrategy creates a grouped strategy with a default topic for
// channels no rule matches.
//
// Example:
//
//	strategy, err := broker.NewGroupedStrategy("events", 8,
//	    broker.GroupRule{Pattern: "user.*", Topic: "user-events", Partitions: 16},
//	    broker.GroupRule{Pattern: "presence.**", Topic: "presence-events", Partitions: 4},
//	)
func NewGroupedStrategy(defaultTopic string, defaultPartitions int, rules ...GroupRule) (*GroupedStrategy, error) {
	if defaultTopic == "" {
		return nil, fmt.Errorf("%w: default topic is required", ErrNoRoute)
	}
	if defaultPartitions <= 0 {
		defaultPartitions = 1
	}

	for i, rule := range rules {
		if rule.Topic == "" {
			return nil, fmt.Errorf("%w: rule %d has no topic", ErrNoRoute, i)
		}
		if rule.Pattern == "" || !doublestar.ValidatePattern(globToPath(rule.Pattern)) {
			return nil, fmt.Errorf("%w: rule %d has invalid pattern %q", ErrNoRoute, i, rule.Pattern)
		}
		if rules[i].Partitions <= 0 {
			rules[i].Partitions = 1
		}
	}

	return &GroupedStrategy{
		rules:             rules,
		defaultTopic:      defaultTopic,
		defaultPartitions: defaultPartitions,
	}, nil
}

// Resolve matches the channel against the rule list in order; the first
// matching rule wins, and unmatched channels take the default route.
func (s *GroupedStrategy) Resolve(channel string) (Route, error) {
	if channel == "" {
		return Route{}, fmt.Errorf("%w: empty channel name", ErrNoRoute)
	}

	for _, rule := range s.rules {
		if ok, err := doublestar.Match(globToPath(rule.Pattern), globToPath(channel)); err == nil && ok {
			return Route{
				Topic:        rule.Topic,
				PartitionKey: channel,
				Partitions:   rule.Partitions,
			}, nil
		}
	}

	return Route{
		Topic:        s.defaultTopic,
		PartitionKey: channel,
		Partitions:   s.defaultPartitions,
	}, nil
}

// Topics returns the distinct topics the strategy can resolve to, default
// first. Consumers subscribe to this set.
func (s *GroupedStrategy) Topics() []string {
	seen := map[string]struct{}{s.defaultTopic: {}}
	topics := []string{s.defaultTopic}
	for _, rule := range s.rules {
		if _, ok := seen[rule.Topic]; !ok {
			seen[rule.Topic] = struct{}{}
			topics = append(topics, rule.Topic)
		}
	}
	return topics
}

// PartitionFor selects a partition by a stable FNV-1a hash of the key. The
// same key always lands on the same partition for a given partition count.
func PartitionFor(key string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}

// SanitizeTopic replaces any rune a broker would reject in a topic name.
func SanitizeTopic(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

// DeadLetterTopic derives the dead-letter destination for a topic.
func DeadLetterTopic(prefix, topic string) string {
	if prefix == "" {
		prefix = DefaultDeadLetterPrefix
	}
	return prefix + topic
}

// Channel globs use the dot as segment separator; doublestar works on
// path separators, so both sides are translated before matching.
func globToPath(s string) string {
	return strings.ReplaceAll(s, ".", "/")
}
