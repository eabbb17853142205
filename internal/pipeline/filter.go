package pipeline

import (
	"strings"

	"github.com/wangqi/tailscan/internal/domain"
)

// FilterMembers drops instruments whose name or code starts with any
// blocklist entry, then deduplicates by code keeping the first occurrence.
// Input order is preserved, so re-running on already-filtered output is a
// no-op.
func FilterMembers(members []domain.Member, blocklist []string) []domain.Member {
	out := make([]domain.Member, 0, len(members))
	seen := make(map[string]struct{}, len(members))

	for _, m := range members {
		if blocked(m, blocklist) {
			continue
		}
		if _, dup := seen[m.Code]; dup {
			continue
		}
		seen[m.Code] = struct{}{}
		out = append(out, m)
	}
	return out
}

func blocked(m domain.Member, blocklist []string) bool {
	for _, prefix := range blocklist {
		if strings.HasPrefix(m.Name, prefix) || strings.HasPrefix(m.Code, prefix) {
			return true
		}
	}
	return false
}
