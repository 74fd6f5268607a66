package repository

import (
	"social_chat/internal/docstore"
	"social_chat/pkg/logger"
)

// decodeAll раскладывает снимки в структуры; битые документы пропускаются с предупреждением
func decodeAll[T any](snaps []*docstore.Snapshot, log logger.Logger) []*T {
	out := make([]*T, 0, len(snaps))
	for _, snap := range snaps {
		v := new(T)
		if err := snap.DataTo(v); err != nil {
			log.Warn("Failed to decode document", "error", err, "ref", snap.Ref.Path())
			continue
		}
		out = append(out, v)
	}
	return out
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
