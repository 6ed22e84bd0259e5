package crawler

import (
	"strconv"
	"sync/atomic"
	"time"
)

// MarkerAttribute is the DOM attribute used to tag elements for later queries.
const MarkerAttribute = "data-dashcrawl-marker"

var processStart = time.Now()

// MarkerSource hands out marker values that are unique for the life of the
// process: a process-start seed plus a monotonically increasing counter, so
// rapid repeated calls can never collide on clock granularity.
type MarkerSource struct {
	seed string
	n    atomic.Uint64
}

// NewMarkerSource creates a marker source seeded with the process start time.
func NewMarkerSource() *MarkerSource {
	return &MarkerSource{seed: strconv.FormatInt(processStart.UnixNano(), 36)}
}

// Next returns a fresh marker value.
func (m *MarkerSource) Next() string {
	return "dc-" + m.seed + "-" + strconv.FormatUint(m.n.Add(1), 10)
}

// markerSelector selects the element tagged with marker.
func markerSelector(marker string) string {
	return "[" + MarkerAttribute + "=" + cssString(marker) + "]"
}
