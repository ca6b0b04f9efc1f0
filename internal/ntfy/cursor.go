package ntfy

// IsRelativeSince reports whether s is a relative backlog token rather than
// a concrete resumption point. The remote service accepts durations
// ("30m", "12h"), the word "all", and "latest" as since values; all of
// these replay or skip backlog relative to now, so resuming from them after
// a restart would re-fetch history the cache already holds. Message ids and
// unix timestamps are concrete.
func IsRelativeSince(s string) bool {
	if s == "all" || s == "latest" {
		return true
	}
	if len(s) < 2 {
		return false
	}
	unit := s[len(s)-1]
	switch unit {
	case 's', 'm', 'h', 'd':
	default:
		return false
	}
	for _, r := range s[:len(s)-1] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
