package detection

import (
	"fmt"
	"time"

	"github.com/nshruti113/threatdna/internal/models"
)

// sourceGroup holds one source IP's records in time order
type sourceGroup struct {
	ip     string
	events []*models.TrafficRecord
}

// groupBySource partitions time-sorted records by source IP, keeping groups in order of
// first appearance. Records missing any field in req are counted as skipped.
func groupBySource(records []models.TrafficRecord, req models.FieldSet) ([]*sourceGroup, int) {
	var groups []*sourceGroup
	index := make(map[string]*sourceGroup)
	skipped := 0

	for i := range records {
		rec := &records[i]
		if !rec.Present.HasAll(req) {
			skipped++
			continue
		}
		g, ok := index[rec.SourceIP]
		if !ok {
			g = &sourceGroup{ip: rec.SourceIP}
			index[rec.SourceIP] = g
			groups = append(groups, g)
		}
		g.events = append(g.events, rec)
	}

	return groups, skipped
}

// bucketKey identifies a fixed-width time bucket for one source IP
type bucketKey struct {
	ip    string
	start time.Time
}

// bucketCounter accumulates per-(IP, bucket) state in order of first appearance
type bucketCounter[T any] struct {
	width time.Duration
	order []bucketKey
	state map[bucketKey]T
}

func newBucketCounter[T any](width time.Duration) *bucketCounter[T] {
	return &bucketCounter[T]{
		width: width,
		state: make(map[bucketKey]T),
	}
}

// at returns the state of the record's bucket, creating it with init on first use
func (b *bucketCounter[T]) at(rec *models.TrafficRecord, init func() T) (bucketKey, T) {
	key := bucketKey{ip: rec.SourceIP, start: rec.AccessTime.Truncate(b.width)}
	v, ok := b.state[key]
	if !ok {
		v = init()
		b.state[key] = v
		b.order = append(b.order, key)
	}
	return key, v
}

func (b *bucketCounter[T]) set(key bucketKey, v T) {
	b.state[key] = v
}

// humanWindow renders a window as "60s" or "5m". Windows under five minutes stay in seconds.
func humanWindow(d time.Duration) string {
	if d >= 5*time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	return fmt.Sprintf("%ds", int(d/time.Second))
}
