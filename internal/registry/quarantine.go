package registry

import (
	"context"
	"fmt"

	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

// QuarantineAction is the outcome of one entry in a bulk review.
type QuarantineAction struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier,omitempty"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// QuarantineStats summarizes the registry by trust status.
type QuarantineStats struct {
	Pending  int `json:"pending"`
	Unknown  int `json:"unknown"`
	Approved int `json:"approved"`
	Blocked  int `json:"blocked"`
}

// Quarantined returns how many entries await review.
func (s QuarantineStats) Quarantined() int {
	return s.Pending + s.Unknown
}

// ListQuarantined returns the entries awaiting review, newest first.
func (s *Service) ListQuarantined(ctx context.Context, opts storage.RegistryListOptions) (*storage.PaginatedResult[types.ClientRegistryEntry], error) {
	opts.QuarantinedOnly = true
	opts.Status = ""
	return s.store.ListEntries(ctx, opts)
}

// ApproveQuarantined approves an entry currently in quarantine. Unlike
// Approve, it refuses to touch entries that are already reviewed: the
// quarantine endpoints only act on pending/unknown rows.
func (s *Service) ApproveQuarantined(ctx context.Context, id string) (*types.ClientRegistryEntry, error) {
	return s.reviewQuarantined(ctx, id, types.StatusApproved)
}

// BlockQuarantined blocks an entry currently in quarantine.
func (s *Service) BlockQuarantined(ctx context.Context, id string) (*types.ClientRegistryEntry, error) {
	return s.reviewQuarantined(ctx, id, types.StatusBlocked)
}

// ApproveQuarantinedAs approves a quarantined entry, overwriting the
// detected client type and model with the admin's correction. Empty
// fields keep the detected values.
func (s *Service) ApproveQuarantinedAs(ctx context.Context, id, newType, newModel string) (*types.ClientRegistryEntry, error) {
	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entry.Status.Quarantined() {
		return nil, fmt.Errorf("%w: %s is %s", storage.ErrNotQuarantined, entry.Identifier, entry.Status)
	}

	changed := false
	if newType != "" && newType != entry.ClientType {
		entry.ClientType = newType
		entry.EndpointPattern = fmt.Sprintf("/mcp/%s/sse/{user}", newType)
		changed = true
	}
	if newModel != "" && newModel != entry.ModelName {
		entry.ModelName = newModel
		changed = true
	}
	if changed {
		if err := s.store.UpdateEntry(ctx, entry); err != nil {
			return nil, err
		}
	}
	return s.transition(ctx, id, types.StatusApproved)
}

// BlockQuarantinedFor blocks a quarantined entry and records the
// admin's reason in the entry metadata.
func (s *Service) BlockQuarantinedFor(ctx context.Context, id, reason string) (*types.ClientRegistryEntry, error) {
	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entry.Status.Quarantined() {
		return nil, fmt.Errorf("%w: %s is %s", storage.ErrNotQuarantined, entry.Identifier, entry.Status)
	}

	if reason != "" {
		if entry.Metadata == nil {
			entry.Metadata = map[string]interface{}{}
		}
		entry.Metadata["blocked_reason"] = reason
		if err := s.store.UpdateEntry(ctx, entry); err != nil {
			return nil, err
		}
	}
	return s.transition(ctx, id, types.StatusBlocked)
}

func (s *Service) reviewQuarantined(ctx context.Context, id string, next types.RegistryStatus) (*types.ClientRegistryEntry, error) {
	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entry.Status.Quarantined() {
		return nil, fmt.Errorf("%w: %s is %s", storage.ErrNotQuarantined, entry.Identifier, entry.Status)
	}
	return s.transition(ctx, id, next)
}

// BulkReview applies one verdict to a batch of quarantined entries.
// Failures are reported per entry and never abort the rest of the
// batch.
func (s *Service) BulkReview(ctx context.Context, ids []string, approve bool) []QuarantineAction {
	results := make([]QuarantineAction, 0, len(ids))
	for _, id := range ids {
		var entry *types.ClientRegistryEntry
		var err error
		if approve {
			entry, err = s.ApproveQuarantined(ctx, id)
		} else {
			entry, err = s.BlockQuarantined(ctx, id)
		}

		action := QuarantineAction{ID: id, OK: err == nil}
		if entry != nil {
			action.Identifier = entry.Identifier
		}
		if err != nil {
			action.Error = err.Error()
		}
		results = append(results, action)
	}
	return results
}

// Stats counts registry entries per trust status.
func (s *Service) Stats(ctx context.Context) (*QuarantineStats, error) {
	stats := &QuarantineStats{}
	for _, st := range []struct {
		status types.RegistryStatus
		dest   *int
	}{
		{types.StatusPending, &stats.Pending},
		{types.StatusUnknown, &stats.Unknown},
		{types.StatusApproved, &stats.Approved},
		{types.StatusBlocked, &stats.Blocked},
	} {
		result, err := s.store.ListEntries(ctx, storage.RegistryListOptions{Status: st.status, Limit: 1})
		if err != nil {
			return nil, err
		}
		*st.dest = result.Total
	}
	return stats, nil
}
