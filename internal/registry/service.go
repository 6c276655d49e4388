// Package registry manages the client trust directory: one row per
// client identifier ever seen, a trust status per row, and the
// quarantine workflow for clients awaiting review.
package registry

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

// Notifier receives trust events for the admin surface. Implementations
// must not block; the registry calls them inline on the request path.
type Notifier interface {
	// ClientRegistered fires when a never-before-seen identifier gets a
	// registry row.
	ClientRegistered(entry *types.ClientRegistryEntry)

	// ClientStatusChanged fires on every trust status transition.
	ClientStatusChanged(entry *types.ClientRegistryEntry, old types.RegistryStatus)
}

type noopNotifier struct{}

func (noopNotifier) ClientRegistered(*types.ClientRegistryEntry)                        {}
func (noopNotifier) ClientStatusChanged(*types.ClientRegistryEntry, types.RegistryStatus) {}

// Service is the client registry. Status reads on the hot path go
// through an in-process cache; every status mutation invalidates the
// cached value before returning.
type Service struct {
	store       storage.RegistryStore
	cache       *ristretto.Cache
	notifier    Notifier
	autoApprove bool
	logger      *log.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithNotifier wires a trust event notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithAutoApprove controls whether confidently detected clients are
// approved on first contact. Unknown clients always start quarantined.
func WithAutoApprove(enabled bool) Option {
	return func(s *Service) { s.autoApprove = enabled }
}

// NewService creates a registry service over a RegistryStore.
func NewService(store storage.RegistryStore, opts ...Option) (*Service, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000, // expected unique identifiers x10
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: failed to create status cache: %w", err)
	}

	s := &Service{
		store:       store,
		cache:       cache,
		notifier:    noopNotifier{},
		autoApprove: true,
		logger:      log.New(log.Writer(), "[registry] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureRegistered returns the registry entry for an identity, creating
// it on first contact. Known client types are auto-approved when the
// service is configured for it; unrecognized clients always enter
// quarantine as unknown.
func (s *Service) EnsureRegistered(ctx context.Context, identity *types.ClientIdentity) (*types.ClientRegistryEntry, bool, error) {
	if identity == nil || identity.Identifier == "" {
		return nil, false, fmt.Errorf("%w: identity is required", storage.ErrInvalidInput)
	}

	entry, err := s.store.GetEntryByIdentifier(ctx, identity.Identifier)
	if err == nil {
		// A blocked client's access attempt leaves the row untouched.
		if entry.Status != types.StatusBlocked {
			if touchErr := s.store.TouchLastSeen(ctx, identity.Identifier); touchErr != nil {
				s.logger.Printf("failed to touch last seen for %s: %v", identity.Identifier, touchErr)
			}
		}
		return entry, false, nil
	}
	if err != storage.ErrNotFound {
		return nil, false, err
	}

	status := types.StatusPending
	autoApproved := false
	if identity.ClientType == "unknown" {
		status = types.StatusUnknown
	} else if s.autoApprove {
		status = types.StatusApproved
		autoApproved = true
	}

	entry = &types.ClientRegistryEntry{
		Identifier:      identity.Identifier,
		ClientType:      identity.ClientType,
		ModelName:       identity.ModelName,
		ClientVersion:   identity.ClientVersion,
		EndpointPattern: fmt.Sprintf("/mcp/%s/sse/{user}", identity.ClientType),
		Status:          status,
		AutoApproved:    autoApproved,
		DetectionDetails: map[string]interface{}{
			"confidence_score": identity.ConfidenceScore,
			"source":           string(identity.Source),
		},
		Metadata: identity.Metadata,
	}

	if err := s.store.CreateEntry(ctx, entry); err != nil {
		if err == storage.ErrDuplicateIdentifier {
			// Two concurrent first contacts raced; the loser reads the
			// winner's row.
			existing, getErr := s.store.GetEntryByIdentifier(ctx, identity.Identifier)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	s.cache.Set(entry.Identifier, entry.Status, 1)
	s.logger.Printf("registered client %s (type=%s status=%s confidence=%d)",
		entry.Identifier, entry.ClientType, entry.Status, identity.ConfidenceScore)
	s.notifier.ClientRegistered(entry)
	return entry, true, nil
}

// Status returns the trust status for an identifier, using the cache
// when warm. Identifiers never seen resolve to StatusUnknown.
func (s *Service) Status(ctx context.Context, identifier string) (types.RegistryStatus, error) {
	if v, ok := s.cache.Get(identifier); ok {
		if status, ok := v.(types.RegistryStatus); ok {
			return status, nil
		}
	}

	entry, err := s.store.GetEntryByIdentifier(ctx, identifier)
	if err == storage.ErrNotFound {
		return types.StatusUnknown, nil
	}
	if err != nil {
		return "", err
	}

	s.cache.Set(identifier, entry.Status, 1)
	return entry.Status, nil
}

// IsApproved reports whether an identifier may perform memory writes.
func (s *Service) IsApproved(ctx context.Context, identifier string) (bool, error) {
	status, err := s.Status(ctx, identifier)
	if err != nil {
		return false, err
	}
	return status == types.StatusApproved, nil
}

// Approve transitions an entry to approved. Valid from pending,
// unknown, or blocked (admin override).
func (s *Service) Approve(ctx context.Context, id string) (*types.ClientRegistryEntry, error) {
	return s.transition(ctx, id, types.StatusApproved)
}

// Block transitions an entry to blocked. Valid from any non-blocked
// status.
func (s *Service) Block(ctx context.Context, id string) (*types.ClientRegistryEntry, error) {
	return s.transition(ctx, id, types.StatusBlocked)
}

func (s *Service) transition(ctx context.Context, id string, next types.RegistryStatus) (*types.ClientRegistryEntry, error) {
	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	old := entry.Status
	if old == next {
		return entry, nil
	}
	if !types.IsValidStatusTransition(old, next) {
		return nil, fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, old, next)
	}

	entry.Status = next
	switch next {
	case types.StatusApproved:
		// An explicit approval is an admin decision, not an auto one.
		entry.AutoApproved = false
		if entry.Metadata == nil {
			entry.Metadata = map[string]interface{}{}
		}
		entry.Metadata["manually_approved"] = true
	case types.StatusBlocked:
		if entry.Metadata == nil {
			entry.Metadata = map[string]interface{}{}
		}
		entry.Metadata["blocked_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	if err := s.store.UpdateEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.cache.Del(entry.Identifier)
	s.logger.Printf("client %s status %s -> %s", entry.Identifier, old, next)
	s.notifier.ClientStatusChanged(entry, old)
	return entry, nil
}

// Get returns a registry entry by row id.
func (s *Service) Get(ctx context.Context, id string) (*types.ClientRegistryEntry, error) {
	return s.store.GetEntry(ctx, id)
}

// List returns registry entries with pagination and filtering.
func (s *Service) List(ctx context.Context, opts storage.RegistryListOptions) (*storage.PaginatedResult[types.ClientRegistryEntry], error) {
	return s.store.ListEntries(ctx, opts)
}

// Delete removes a registry entry outright and drops its cached status.
func (s *Service) Delete(ctx context.Context, id string) error {
	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteEntry(ctx, id); err != nil {
		return err
	}
	s.cache.Del(entry.Identifier)
	return nil
}

// Wait flushes pending cache writes. Tests use this to make cache state
// deterministic.
func (s *Service) Wait() {
	s.cache.Wait()
}
