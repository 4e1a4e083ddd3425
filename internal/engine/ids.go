package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRunID allocates a run identifier. The format is a sortable uppercase
// hex timestamp followed by a random suffix, so ids order roughly by
// creation time while staying collision-free across processes.
func NewRunID() string {
	ts := strings.ToUpper(fmt.Sprintf("%x", time.Now().UnixMilli()))
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "RUN_" + ts + suffix
}
