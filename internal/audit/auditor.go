// Package audit compares the relational store against the semantic
// index and reports divergence. The relational store is always right;
// ids only the index knows are phantoms, ids only the relational store
// knows are orphaned projections.
package audit

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/scrypster/memgate/internal/storage"
)

// IndexLister is the slice of the semantic engine the auditor needs.
type IndexLister interface {
	KnownIDs(ctx context.Context, userID string) ([]string, error)
}

// UnreachableIndex always fails, so reports mark the semantic side
// unreachable instead of silently empty. Used when no semantic index is
// configured.
type UnreachableIndex struct{}

func (UnreachableIndex) KnownIDs(context.Context, string) ([]string, error) {
	return nil, errors.New("no semantic index configured")
}

// Report is one consistency check result for one user.
type Report struct {
	UserID string `json:"user_id"`

	RelationalTotal int `json:"relational_total"`
	SemanticTotal   int `json:"semantic_total"`
	InBoth          int `json:"in_both"`
	OnlyRelational  int `json:"only_relational"`
	OnlySemantic    int `json:"only_semantic"`

	// ConsistencyPercentage is |inBoth| / max(|relational|, |semantic|)
	// x 100, and 100.0 when both sides are empty.
	ConsistencyPercentage float64 `json:"consistency_percentage"`

	// PhantomIDs are ids only the semantic index holds, sorted, capped
	// at the sample size. OrphanedIDs likewise for relational-only ids.
	PhantomIDs  []string `json:"phantom_memory_ids"`
	OrphanedIDs []string `json:"orphaned_memory_ids"`

	// EngineUnreachable is set when the semantic index could not be
	// queried; the semantic side is then treated as empty rather than
	// failing the check.
	EngineUnreachable bool `json:"engine_unreachable,omitempty"`

	CheckedAt time.Time `json:"checked_at"`
}

// Consistent reports whether both sides agree completely.
func (r *Report) Consistent() bool {
	return r.OnlyRelational == 0 && r.OnlySemantic == 0 && !r.EngineUnreachable
}

// Auditor runs consistency checks on demand and on a background
// interval.
type Auditor struct {
	records    storage.RecordStore
	index      IndexLister
	sampleSize int
	logger     *log.Logger
}

// NewAuditor creates an auditor. sampleSize caps how many divergent ids
// a report lists per side; non-positive means the default of 10.
func NewAuditor(records storage.RecordStore, index IndexLister, sampleSize int) *Auditor {
	if sampleSize < 1 {
		sampleSize = 10
	}
	return &Auditor{
		records:    records,
		index:      index,
		sampleSize: sampleSize,
		logger:     log.New(log.Writer(), "[audit] ", log.LstdFlags),
	}
}

// CheckUser compares both stores for one user. An unreachable semantic
// index degrades the report instead of failing it; a relational store
// error fails the check, because without the authority there is nothing
// to compare against.
func (a *Auditor) CheckUser(ctx context.Context, userID string) (*Report, error) {
	report := &Report{UserID: userID, CheckedAt: time.Now().UTC()}

	relational, err := a.records.LiveRecordIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	semanticIDs, err := a.index.KnownIDs(ctx, userID)
	if err != nil {
		a.logger.Printf("semantic index unreachable for %s: %v", userID, err)
		report.EngineUnreachable = true
		semanticIDs = nil
	}

	semantic := make(map[string]bool, len(semanticIDs))
	for _, id := range semanticIDs {
		semantic[id] = true
	}

	var phantoms, orphans []string
	for id := range relational {
		if semantic[id] {
			report.InBoth++
		} else {
			orphans = append(orphans, id)
		}
	}
	for id := range semantic {
		if !relational[id] {
			phantoms = append(phantoms, id)
		}
	}
	sort.Strings(phantoms)
	sort.Strings(orphans)

	report.RelationalTotal = len(relational)
	report.SemanticTotal = len(semantic)
	report.OnlyRelational = len(orphans)
	report.OnlySemantic = len(phantoms)
	report.PhantomIDs = sample(phantoms, a.sampleSize)
	report.OrphanedIDs = sample(orphans, a.sampleSize)

	if report.RelationalTotal == 0 && report.SemanticTotal == 0 {
		report.ConsistencyPercentage = 100.0
	} else {
		denom := report.RelationalTotal
		if report.SemanticTotal > denom {
			denom = report.SemanticTotal
		}
		report.ConsistencyPercentage = float64(report.InBoth) / float64(denom) * 100.0
	}

	if !report.Consistent() {
		a.logger.Printf("inconsistency for %s: %.1f%% (%d phantom, %d orphaned)",
			userID, report.ConsistencyPercentage, report.OnlySemantic, report.OnlyRelational)
	}
	return report, nil
}

// CheckAll runs CheckUser for every user with records. A failing user
// is logged and skipped so one bad row can't hide everyone else's
// report.
func (a *Auditor) CheckAll(ctx context.Context) ([]*Report, error) {
	userIDs, err := a.records.UserIDs(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]*Report, 0, len(userIDs))
	for _, userID := range userIDs {
		report, err := a.CheckUser(ctx, userID)
		if err != nil {
			a.logger.Printf("check failed for %s: %v", userID, err)
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// RunLoop runs CheckAll on a fixed interval until the context is
// canceled. A non-positive interval disables the loop.
func (a *Auditor) RunLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.CheckAll(ctx); err != nil {
				a.logger.Printf("background sweep failed: %v", err)
			}
		}
	}
}

func sample(ids []string, n int) []string {
	if len(ids) > n {
		return ids[:n]
	}
	return ids
}
