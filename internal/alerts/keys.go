package alerts

import (
	"fmt"
	"time"

	"github.com/potooio/cdcwatch/internal/types"
)

// Dedup keys are derived only from the identity of the underlying fact, so
// re-observing the same snapshot yields the same key.

// ConnectionKey identifies a failed or inactive connection test.
func ConnectionKey(connectionID types.ID, lastTestedAt time.Time) string {
	return fmt.Sprintf("connection_%s_%s", connectionID, formatKeyTime(lastTestedAt))
}

// UntestedConnectionKey identifies a failed connection whose test carries no
// timestamp.
func UntestedConnectionKey(connectionID types.ID) string {
	return fmt.Sprintf("connection_%s_untested", connectionID)
}

// PipelineKey identifies a pipeline entering the error state at a given revision.
func PipelineKey(pipelineID types.ID, changedAt time.Time) string {
	return fmt.Sprintf("pipeline_status_%s_%s", pipelineID, formatKeyTime(changedAt))
}

// ReplicationKey identifies a failed replication event.
func ReplicationKey(eventID types.ID) string {
	return fmt.Sprintf("replication_%s", eventID)
}

func formatKeyTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
