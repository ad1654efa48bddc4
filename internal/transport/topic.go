package transport

import "strings"

// MatchTopic reports whether topic matches an MQTT-style filter containing
// the `+` (single-level) and `#` (multi-level, trailing only) wildcards
// described in /.
func MatchTopic(filter, topic string) bool {
	if filter == topic {
		return true
	}

	fParts := strings.Split(filter, "/")
	tParts := strings.Split(topic, "/")

	for i, fp := range fParts {
		if fp == "#" {
			// '#' must be the final filter segment and matches zero or
			// more remaining levels.
			return i == len(fParts)-1
		}
		if i >= len(tParts) {
			return false
		}
		if fp == "+" {
			continue
		}
		if fp != tParts[i] {
			return false
		}
	}

	return len(fParts) == len(tParts)
}
