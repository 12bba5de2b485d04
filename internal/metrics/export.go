package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// ExportTree renders the latest snapshot as a nested map, splitting metric
// names on dots ("capture.dropped_frames" → {"capture": {"dropped_frames": n}}).
func (c *Collector) ExportTree() map[string]any {
	snap := c.Current()
	tree := make(map[string]any)

	for name, value := range snap.Values {
		parts := strings.Split(name, ".")
		node := tree
		for i, part := range parts {
			if i == len(parts)-1 {
				node[part] = value
				break
			}
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
	}

	if !snap.Timestamp.IsZero() {
		tree["timestamp"] = snap.Timestamp
	}
	return tree
}

// ExportFlat renders the latest snapshot as sorted key=value lines.
func (c *Collector) ExportFlat() string {
	snap := c.Current()

	names := make([]string, 0, len(snap.Values))
	for name := range snap.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s=%g\n", name, snap.Values[name])
	}
	return b.String()
}
