package services

import (
	"time"

	"github.com/shellmux/shellmux/internal/cache"
	"github.com/shellmux/shellmux/internal/models"
)

const (
	historyCapacity = 128
	historyTTL      = time.Hour
)

// ClosedSessionHistory remembers recently destroyed sessions so clients that
// reconnect after a close can still learn the outcome. Bounded and TTL'd;
// nothing here survives a server restart.
type ClosedSessionHistory struct {
	cache *cache.LRUCache
}

func NewClosedSessionHistory() *ClosedSessionHistory {
	return &ClosedSessionHistory{
		cache: cache.NewLRUCache(historyCapacity, historyTTL),
	}
}

// Record captures the final state of a destroyed session.
func (h *ClosedSessionHistory) Record(s *models.TerminalSession, exitCode int) {
	h.cache.Set(s.ID, models.ClosedSessionInfo{
		SessionID: s.ID,
		Command:   s.Command,
		ExitCode:  exitCode,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		ClosedAt:  time.Now().Format(time.RFC3339),
	})
}

// Get returns the record for a closed session id.
func (h *ClosedSessionHistory) Get(id string) (models.ClosedSessionInfo, bool) {
	v, ok := h.cache.Get(id)
	if !ok {
		return models.ClosedSessionInfo{}, false
	}
	return v.(models.ClosedSessionInfo), true
}

// Recent lists the remembered closures, most recent first.
func (h *ClosedSessionHistory) Recent() []models.ClosedSessionInfo {
	keys := h.cache.Keys()
	infos := make([]models.ClosedSessionInfo, 0, len(keys))
	for _, id := range keys {
		if v, ok := h.cache.Get(id); ok {
			infos = append(infos, v.(models.ClosedSessionInfo))
		}
	}
	return infos
}
