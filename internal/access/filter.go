// Package access decides which memory records a client application may
// see. Decisions come from access rules; when no rule matches, the
// configured default applies. The shipped default is allow, matching
// the historical open behavior, and can be flipped to deny.
package access

import (
	"context"
	"log"

	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

// Subject and object type values used by the rule tables.
const (
	SubjectApp   = "app"
	ObjectMemory = "memory"
)

// Filter evaluates access rules for app/memory pairs and records every
// permitted access in the audit log.
type Filter struct {
	rules        storage.AccessRuleStore
	logs         storage.AccessLogStore
	defaultAllow bool
	logger       *log.Logger
}

// NewFilter creates a Filter. defaultAllow is the verdict when no rule
// matches.
func NewFilter(rules storage.AccessRuleStore, logs storage.AccessLogStore, defaultAllow bool) *Filter {
	return &Filter{
		rules:        rules,
		logs:         logs,
		defaultAllow: defaultAllow,
		logger:       log.New(log.Writer(), "[access] ", log.LstdFlags),
	}
}

// Allowed reports whether an app may access a memory record.
//
// Rule resolution: of all rules matching the subject and object, the
// most specific wins. Specificity orders concrete ids above wildcards,
// with the subject side weighing more than the object side. Among
// equally specific rules, deny wins.
func (f *Filter) Allowed(ctx context.Context, appID, memoryID string) (bool, error) {
	rules, err := f.rules.RulesForSubject(ctx, SubjectApp, appID)
	if err != nil {
		return false, err
	}

	bestScore := -1
	verdict := f.defaultAllow
	for _, rule := range rules {
		if rule.ObjectType != ObjectMemory {
			continue
		}
		if rule.ObjectID != "" && rule.ObjectID != memoryID {
			continue
		}

		score := 0
		if rule.SubjectID != "" {
			score += 2
		}
		if rule.ObjectID != "" {
			score++
		}

		if score > bestScore {
			bestScore = score
			verdict = rule.Effect == types.EffectAllow
		} else if score == bestScore && rule.Effect == types.EffectDeny {
			verdict = false
		}
	}

	return verdict, nil
}

// FilterRecords returns the subset of records the app may see,
// preserving order. Records that fail the check are silently omitted;
// the caller never learns they exist.
func (f *Filter) FilterRecords(ctx context.Context, appID string, records []*types.MemoryRecord) ([]*types.MemoryRecord, error) {
	filtered := make([]*types.MemoryRecord, 0, len(records))
	for _, rec := range records {
		ok, err := f.Allowed(ctx, appID, rec.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

// RecordAccess appends an audit row for a permitted access. Logging
// failures are reported but never fail the request; the access already
// happened.
func (f *Filter) RecordAccess(ctx context.Context, appID, memoryID, accessType string, metadata map[string]interface{}) {
	err := f.logs.AppendAccessLog(ctx, &types.AccessLog{
		MemoryID:   memoryID,
		AppID:      appID,
		AccessType: accessType,
		Metadata:   metadata,
	})
	if err != nil {
		f.logger.Printf("failed to log %s access to %s by %s: %v", accessType, memoryID, appID, err)
	}
}
