package services

import (
	"context"
	"strings"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}

// appendUnique appends id to ids when absent and reports whether it was added.
func appendUnique(ids []string, id string) ([]string, bool) {
	for _, candidate := range ids {
		if candidate == id {
			return ids, false
		}
	}
	return append(ids, id), true
}

// removeID drops id from ids and reports whether it was present.
func removeID(ids []string, id string) ([]string, bool) {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...), true
		}
	}
	return ids, false
}
