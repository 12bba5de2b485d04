package metrics

import (
	"time"

	"github.com/your-org/edgewatch/internal/models"
)

// ring is a fixed-capacity buffer of metric points. Writes overwrite the
// oldest point once full.
type ring struct {
	points []models.MetricPoint
	next   int
	filled bool
}

func newRing(capacity int) *ring {
	return &ring{points: make([]models.MetricPoint, capacity)}
}

func (r *ring) append(p models.MetricPoint) {
	r.points[r.next] = p
	r.next++
	if r.next == len(r.points) {
		r.next = 0
		r.filled = true
	}
}

// since returns points newer than cutoff in chronological order.
func (r *ring) since(cutoff time.Time) []models.MetricPoint {
	var out []models.MetricPoint
	appendFrom := func(pts []models.MetricPoint) {
		for _, p := range pts {
			if p.Timestamp.After(cutoff) {
				out = append(out, p)
			}
		}
	}
	if r.filled {
		appendFrom(r.points[r.next:])
	}
	appendFrom(r.points[:r.next])
	return out
}

func (r *ring) len() int {
	if r.filled {
		return len(r.points)
	}
	return r.next
}
