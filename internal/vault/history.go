package vault

import (
	"time"

	"github.com/starford/muninn/internal/models"
)

// History policy: a bounded FIFO of content checkpoints per file. A new
// checkpoint is taken at most once per rolling window, so bursts of
// keystroke-level edits coalesce into coarse undo points.
const (
	// HistoryLimit is the maximum number of checkpoints kept per file.
	HistoryLimit = 5
	// CheckpointWindow is the minimum age of the newest checkpoint before
	// another one is taken.
	CheckpointWindow = 60 * time.Second
)

// appendCheckpoint appends a checkpoint holding content (the pre-update
// content) unless the newest entry is younger than the window. On overflow
// the oldest entries are evicted.
func appendCheckpoint(h []models.HistoryEntry, content string, now int64) []models.HistoryEntry {
	if len(h) > 0 && now-h[len(h)-1].Timestamp <= CheckpointWindow.Milliseconds() {
		return h
	}
	h = append(h, models.HistoryEntry{Content: content, Timestamp: now})
	if len(h) > HistoryLimit {
		h = h[len(h)-HistoryLimit:]
	}
	return h
}
