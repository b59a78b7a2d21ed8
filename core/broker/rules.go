package broker

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseGroupRules parses a compact rule list of the form
//
//	pattern=topic[:partitions][,pattern=topic[:partitions]...]
//
// e.g. "user.*=user-events:16,presence.**=presence-events". Partitions
// default to 1 when omitted. An empty input yields no rules.
func ParseGroupRules(s string) ([]GroupRule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var rules []GroupRule
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		pattern, dest, ok := strings.Cut(part, "=")
		if !ok || pattern == "" || dest == "" {
			return nil, fmt.Errorf("%w: malformed rule %q, want pattern=topic[:partitions]", ErrNoRoute, part)
		}

		topic := dest
		partitions := 1
		if topicPart, partStr, found := strings.Cut(dest, ":"); found {
			n, err := strconv.Atoi(partStr)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: rule %q has invalid partition count %q", ErrNoRoute, part, partStr)
			}
			topic = topicPart
			partitions = n
		}

		rules = append(rules, GroupRule{
			Pattern:    strings.TrimSpace(pattern),
			Topic:      strings.TrimSpace(topic),
			Partitions: partitions,
		})
	}

	return rules, nil
}
