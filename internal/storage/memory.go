package storage

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nshruti113/threatdna/internal/models"
)

// ReportStore keeps the most recent run reports in memory, evicting the least recently
// used once full. It is safe for concurrent use.
type ReportStore struct {
	cache *lru.Cache[string, *models.Report]
}

func NewReportStore(size int) (*ReportStore, error) {
	cache, err := lru.New[string, *models.Report](size)
	if err != nil {
		return nil, err
	}
	return &ReportStore{cache: cache}, nil
}

// Put stores a report under its run ID and reports whether an older one was evicted
func (s *ReportStore) Put(report *models.Report) bool {
	return s.cache.Add(report.RunID, report)
}

// Get returns a report and marks it recently used
func (s *ReportStore) Get(runID string) (*models.Report, bool) {
	return s.cache.Get(runID)
}

// Summaries lists the cached runs, newest first
func (s *ReportStore) Summaries() []models.Summary {
	reports := s.cache.Values()
	out := make([]models.Summary, 0, len(reports))
	for _, r := range reports {
		out = append(out, r.Summarize())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (s *ReportStore) Len() int {
	return s.cache.Len()
}
