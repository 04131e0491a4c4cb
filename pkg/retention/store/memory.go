package store

import (
	"context"
	"iter"
	"slices"
	"sync"

	"mercator-hq/ratchet/pkg/retention"
)

// MemoryStore implements retention.PolicyStore using an in-memory map.
// This implementation is intended for testing and single-process demos.
type MemoryStore struct {
	copies map[string]retention.Copy
	mu     sync.RWMutex
	opts   Options
}

// NewMemoryStore creates an empty in-memory policy store.
func NewMemoryStore(opts Options) (*MemoryStore, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	return &MemoryStore{
		copies: make(map[string]retention.Copy),
		opts:   opts,
	}, nil
}

// GetCopy returns the stored copy.
func (s *MemoryStore) GetCopy(ctx context.Context, copyID string) (retention.Copy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.copies[copyID]
	if !ok {
		return retention.Copy{}, retention.NotFound(copyID)
	}
	return c.Clone(), nil
}

// CreateCopy installs c at version 1 and audits the creation.
func (s *MemoryStore) CreateCopy(ctx context.Context, c retention.Copy, actor string) (retention.Copy, error) {
	c, err := validateNewCopy(c)
	if err != nil {
		return retention.Copy{}, err
	}

	ctx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.copies[c.CopyID]; exists {
		return retention.Copy{}, retention.Reject(retention.CodeAlreadyExists, "copy "+c.CopyID+" already exists")
	}

	c = initialState(c, s.opts.Now())
	if err := s.opts.Audit.Append(ctx, createdRecord(c, actor)); err != nil {
		return retention.Copy{}, retention.NewAuditError(c.CopyID, retention.OpCreateCopy, err)
	}
	s.copies[c.CopyID] = c.Clone()
	return c, nil
}

// CompareAndSwap applies m if the stored version matches.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, m retention.Mutation) (uint64, error) {
	ctx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.copies[m.CopyID]
	if !ok {
		return 0, retention.NotFound(m.CopyID)
	}
	if cur.Version != m.ExpectedVersion {
		return 0, conflict(cur, m.ExpectedVersion)
	}

	now := s.opts.Now()
	if m.Delete {
		if err := s.opts.Audit.Append(ctx, acceptedRecord(m, cur, nil, now)); err != nil {
			return 0, retention.NewAuditError(m.CopyID, m.Operation, err)
		}
		delete(s.copies, m.CopyID)
		return 0, nil
	}

	next := nextState(cur, m, now)
	if err := s.opts.Audit.Append(ctx, acceptedRecord(m, cur, &next, now)); err != nil {
		return 0, retention.NewAuditError(m.CopyID, m.Operation, err)
	}
	s.copies[m.CopyID] = next
	return next.Version, nil
}

// CompareAndSwapAll applies every mutation or none.
func (s *MemoryStore) CompareAndSwapAll(ctx context.Context, ms []retention.Mutation) error {
	ctx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	records := make([]retention.AuditRecord, 0, len(ms))
	staged := make(map[string]*retention.Copy, len(ms))

	for _, m := range ms {
		cur, ok := s.copies[m.CopyID]
		if !ok {
			return retention.NotFound(m.CopyID)
		}
		if cur.Version != m.ExpectedVersion {
			return conflict(cur, m.ExpectedVersion)
		}
		if m.Delete {
			records = append(records, acceptedRecord(m, cur, nil, now))
			staged[m.CopyID] = nil
			continue
		}
		next := nextState(cur, m, now)
		records = append(records, acceptedRecord(m, cur, &next, now))
		staged[m.CopyID] = &next
	}

	if err := s.opts.Audit.Append(ctx, records...); err != nil {
		return retention.NewAuditError("", retention.OpDeletePlan, err)
	}
	for id, next := range staged {
		if next == nil {
			delete(s.copies, id)
		} else {
			s.copies[id] = *next
		}
	}
	return nil
}

// ListCopies yields the copies of planID ordered by copy ID, one page at a
// time. Each page is read under the lock; copies created or deleted between
// pages may or may not be seen.
func (s *MemoryStore) ListCopies(ctx context.Context, planID string) iter.Seq2[retention.Copy, error] {
	return func(yield func(retention.Copy, error) bool) {
		after := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(retention.Copy{}, err)
				return
			}
			page := s.page(planID, after)
			for _, c := range page {
				if !yield(c, nil) {
					return
				}
			}
			if len(page) < s.opts.PageSize {
				return
			}
			after = page[len(page)-1].CopyID
		}
	}
}

func (s *MemoryStore) page(planID, after string) []retention.Copy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, c := range s.copies {
		if c.PlanID == planID && id > after {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > s.opts.PageSize {
		ids = ids[:s.opts.PageSize]
	}

	out := make([]retention.Copy, len(ids))
	for i, id := range ids {
		out[i] = s.copies[id].Clone()
	}
	return out
}

// ListPlans returns every plan with at least one copy, sorted.
func (s *MemoryStore) ListPlans(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, c := range s.copies {
		seen[c.PlanID] = struct{}{}
	}
	plans := make([]string, 0, len(seen))
	for p := range seen {
		plans = append(plans, p)
	}
	slices.Sort(plans)
	return plans, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Size returns the number of stored copies (for testing).
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.copies)
}
