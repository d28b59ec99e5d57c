// Package ids provides identifier generation for runs, checkpoints,
// sessions, and events.
package ids

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Rand5 returns a short, filesystem-safe random suffix, the way
// checkpoint and post-mortem ids embed a "-<rand5>" tail.
func Rand5() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:5]
}

// RunID returns a stable run identifier of the form run-<unixMs>.
func RunID(now time.Time) string {
	return fmt.Sprintf("run-%d", now.UnixMilli())
}

// CheckpointID returns a checkpoint identifier of the form
// cp-<unixMs>-<rand5>, sortable by creation order.
func CheckpointID(now time.Time) string {
	return fmt.Sprintf("cp-%d-%s", now.UnixMilli(), Rand5())
}

// ShortID returns a generic opaque identifier, used for event ids.
func ShortID() string {
	return uuid.NewString()
}

// PipelineBranchSuffix returns the "<timestamp-base36>-<rand5>" suffix
// used for auto-generated pipeline branch names.
func PipelineBranchSuffix(now time.Time) string {
	return fmt.Sprintf("%s-%s", base36(now.UnixMilli()), Rand5())
}

func base36(n int64) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{digits[n%36]}, b...)
		n /= 36
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}
