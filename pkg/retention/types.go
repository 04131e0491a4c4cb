package retention

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"
)

// Kind identifies how a retention rule measures its window.
type Kind string

const (
	// KindDays keeps data for a number of calendar days after the job ran.
	KindDays Kind = "days"

	// KindJobBased keeps the most recent N full-to-full cycles regardless of
	// elapsed time.
	KindJobBased Kind = "job_based"
)

// Valid reports whether k is a known retention kind.
func (k Kind) Valid() bool {
	return k == KindDays || k == KindJobBased
}

// ParseKind converts a user supplied string to a Kind.
// Accepts "days", "job_based", "jobs" and "cycles".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "days", "day":
		return KindDays, nil
	case "job_based", "jobs", "cycles":
		return KindJobBased, nil
	default:
		return "", fmt.Errorf("unknown retention kind %q", s)
	}
}

// RetentionRule is the retention window applied to every job of a copy.
type RetentionRule struct {
	// Kind selects days or job-based retention.
	Kind Kind `json:"kind" yaml:"kind"`

	// Value is the number of days or the number of cycles to keep.
	// Must be at least 1.
	Value uint32 `json:"value" yaml:"value"`
}

// Days returns a day-based rule.
func Days(n uint32) RetentionRule { return RetentionRule{Kind: KindDays, Value: n} }

// Cycles returns a job-based rule keeping n cycles.
func Cycles(n uint32) RetentionRule { return RetentionRule{Kind: KindJobBased, Value: n} }

// Validate checks that the rule can be applied to a copy.
func (r RetentionRule) Validate() error {
	if !r.Kind.Valid() {
		return Reject(CodeInvalidRetentionRule, fmt.Sprintf("unknown retention kind %q", r.Kind))
	}
	if r.Value == 0 {
		return Reject(CodeInvalidRetentionRule, "retention value must be at least 1")
	}
	return nil
}

func (r RetentionRule) String() string {
	if r.Kind == KindJobBased {
		return fmt.Sprintf("%d cycles", r.Value)
	}
	return fmt.Sprintf("%d days", r.Value)
}

// Frequency selects which full jobs an extended retention rule keeps.
type Frequency string

const (
	FrequencyAllFulls   Frequency = "all_fulls"
	FrequencyWeekly     Frequency = "weekly"
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencyHalfYearly Frequency = "half_yearly"
	FrequencyYearly     Frequency = "yearly"
)

var frequencyRank = map[Frequency]int{
	FrequencyAllFulls:   0,
	FrequencyWeekly:     1,
	FrequencyMonthly:    2,
	FrequencyQuarterly:  3,
	FrequencyHalfYearly: 4,
	FrequencyYearly:     5,
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	_, ok := frequencyRank[f]
	return ok
}

// ParseFrequency converts a user supplied string to a Frequency. Besides
// the canonical names it accepts labels such as "Monthly Fulls".
func ParseFrequency(s string) (Frequency, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.TrimSuffix(norm, " fulls")
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "all", "all_fulls":
		return FrequencyAllFulls, nil
	case "half_yearly", "halfyearly":
		return FrequencyHalfYearly, nil
	}
	if f := Frequency(norm); f.Valid() {
		return f, nil
	}
	return "", fmt.Errorf("unknown retention frequency %q", s)
}

// ExtendedRule keeps the first full job of every Frequency period for Days
// days, even after the copy's base rule has expired it.
type ExtendedRule struct {
	Frequency Frequency `json:"frequency" yaml:"frequency"`
	Days      uint32    `json:"days" yaml:"days"`
}

// Validate checks a single extended rule.
func (e ExtendedRule) Validate() error {
	if !e.Frequency.Valid() {
		return Reject(CodeInvalidRetentionRule, fmt.Sprintf("unknown retention frequency %q", e.Frequency))
	}
	if e.Days == 0 {
		return Reject(CodeInvalidRetentionRule, "extended retention must keep jobs for at least 1 day")
	}
	return nil
}

func (e ExtendedRule) String() string {
	return fmt.Sprintf("%s fulls for %d days", e.Frequency, e.Days)
}

// NormalizeExtendedRules validates rules and returns them ordered from the
// most to the least frequent. A frequency may appear only once.
func NormalizeExtendedRules(rules []ExtendedRule) ([]ExtendedRule, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	out := slices.Clone(rules)
	for _, r := range out {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	slices.SortFunc(out, func(a, b ExtendedRule) int {
		return frequencyRank[a.Frequency] - frequencyRank[b.Frequency]
	})
	for i := 1; i < len(out); i++ {
		if out[i].Frequency == out[i-1].Frequency {
			return nil, Reject(CodeInvalidRetentionRule,
				fmt.Sprintf("duplicate extended retention rule for %s fulls", out[i].Frequency))
		}
	}
	return out, nil
}

// LockSource records where a compliance lock was applied.
type LockSource string

const (
	// LockSourceCopy is a lock enabled on the copy itself.
	LockSourceCopy LockSource = "copy"

	// LockSourcePool is a lock inherited from a WORM storage pool. It can
	// only be administered at pool level.
	LockSourcePool LockSource = "pool"
)

// Valid reports whether s is a known lock source.
func (s LockSource) Valid() bool {
	return s == LockSourceCopy || s == LockSourcePool
}

// LockState is the compliance lock of a copy.
//
// The zero value is unlocked. Once Locked is true, LockedAt and Floor never
// change again for the life of the copy.
type LockState struct {
	// Locked is true once enable_lock has been accepted.
	Locked bool `json:"locked"`

	// LockedAt is when the lock was enabled. Zero while unlocked.
	LockedAt time.Time `json:"locked_at,omitzero"`

	// Floor is the retention rule in effect at lock time. Retention may never
	// be re-typed or set below this rule while the lock exists.
	Floor RetentionRule `json:"floor,omitzero"`

	// Source is where the lock was applied. Empty while unlocked.
	Source LockSource `json:"source,omitempty"`
}

func (l LockState) String() string {
	if !l.Locked {
		return "unlocked"
	}
	s := fmt.Sprintf("locked since %s (floor %s)", l.LockedAt.UTC().Format(time.RFC3339), l.Floor)
	if l.Source == LockSourcePool {
		s += " via storage pool"
	}
	return s
}

// CopyType is the role of a copy within a plan.
type CopyType string

const (
	CopyTypePrimary     CopyType = "primary"
	CopyTypePrimarySnap CopyType = "primary_snap"
	CopyTypeSecondary   CopyType = "secondary"
)

// Valid reports whether t is a known copy type.
func (t CopyType) Valid() bool {
	switch t {
	case CopyTypePrimary, CopyTypePrimarySnap, CopyTypeSecondary:
		return true
	}
	return false
}

// Copy is a storage copy governed by exactly one retention rule and one lock
// state. Copies are owned by a PolicyStore; everything else holds snapshots.
type Copy struct {
	CopyID        string        `json:"copy_id"`
	PlanID        string        `json:"plan_id"`
	CopyType      CopyType      `json:"copy_type"`
	RetentionRule RetentionRule `json:"retention_rule"`
	LockState     LockState     `json:"lock_state"`

	// ExtendedRules let selected full jobs outlive RetentionRule.
	ExtendedRules []ExtendedRule `json:"extended_rules,omitempty"`

	// Version is the compare-and-swap version. It starts at 1 and increases
	// by one with every accepted mutation.
	Version uint64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// PrunedJobIDs lists jobs whose physical deletion was confirmed and
	// recorded. They are excluded from every retention decision.
	PrunedJobIDs []string `json:"pruned_job_ids,omitempty"`
}

// Clone returns a deep copy of c.
func (c Copy) Clone() Copy {
	c.PrunedJobIDs = slices.Clone(c.PrunedJobIDs)
	c.ExtendedRules = slices.Clone(c.ExtendedRules)
	return c
}

// IsPruned reports whether jobID has already been deleted from the copy.
func (c Copy) IsPruned(jobID string) bool {
	return slices.Contains(c.PrunedJobIDs, jobID)
}

// LiveJobs filters out jobs that were already pruned from the copy.
func (c Copy) LiveJobs(jobs []Job) []Job {
	if len(c.PrunedJobIDs) == 0 {
		return jobs
	}
	live := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if !c.IsPruned(j.JobID) {
			live = append(live, j)
		}
	}
	return live
}

// Snapshot returns the audit view of the copy state.
func (c Copy) Snapshot() *CopyState {
	return &CopyState{
		RetentionRule: c.RetentionRule,
		LockState:     c.LockState,
		ExtendedRules: slices.Clone(c.ExtendedRules),
		Version:       c.Version,
	}
}

// CopyState is the part of a copy recorded in audit records.
type CopyState struct {
	RetentionRule RetentionRule  `json:"retention_rule"`
	LockState     LockState      `json:"lock_state"`
	ExtendedRules []ExtendedRule `json:"extended_rules,omitempty"`
	Version       uint64         `json:"version"`
}

// Job is a unit of protected data on a copy. Jobs come from the backup
// catalog; the engine never creates them.
type Job struct {
	JobID       string    `json:"job_id"`
	CopyID      string    `json:"copy_id"`
	CreatedAt   time.Time `json:"created_at"`
	CycleNumber uint64    `json:"cycle_number"`
	IsFull      bool      `json:"is_full"`
}

// Result is the outcome recorded for an audited operation.
type Result string

const (
	ResultAccepted Result = "accepted"
	ResultRejected Result = "rejected"
)

// Operation names used in audit records.
const (
	OpCreateCopy              = "create_copy"
	OpEnableLock              = "enable_lock"
	OpDisableLock             = "disable_lock"
	OpChangeRetention         = "change_retention"
	OpChangeExtendedRetention = "change_extended_retention"
	OpDeleteCopy              = "delete_copy"
	OpDeleteJob               = "delete_job"
	OpDeletePlan              = "delete_plan"
)

// AuditRecord is one append-only entry in the audit log.
type AuditRecord struct {
	// ID is a unique record identifier (UUID).
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	CopyID    string    `json:"copy_id"`
	PlanID    string    `json:"plan_id,omitempty"`
	Operation string    `json:"operation"`

	// PriorState is nil for creations; NewState is nil for deletions and for
	// rejected operations.
	PriorState *CopyState `json:"prior_state,omitempty"`
	NewState   *CopyState `json:"new_state,omitempty"`

	Result Result `json:"result"`

	// Code is the rejection code for rejected operations.
	Code Code `json:"code,omitempty"`

	// Reason is a human readable explanation.
	Reason string `json:"reason,omitempty"`
}

// Mutation is a single compare-and-swap request.
type Mutation struct {
	CopyID          string
	ExpectedVersion uint64

	// NewState is the state to install. Ignored when Delete is set.
	NewState Copy

	// Delete destroys the copy record.
	Delete bool

	// Actor and Operation are copied into the audit record.
	Actor     string
	Operation string
	Reason    string
}

// PolicyStore owns the authoritative copy records.
//
// CompareAndSwap is the only way to change a copy. Every successful swap
// appends an accepted AuditRecord before it returns.
type PolicyStore interface {
	// GetCopy returns the current copy or a NotFound rejection.
	GetCopy(ctx context.Context, copyID string) (Copy, error)

	// CreateCopy installs a new copy at version 1.
	CreateCopy(ctx context.Context, c Copy, actor string) (Copy, error)

	// CompareAndSwap applies m if the stored version equals m.ExpectedVersion.
	// Returns the new version (0 for deletions).
	CompareAndSwap(ctx context.Context, m Mutation) (uint64, error)

	// CompareAndSwapAll applies every mutation or none of them.
	CompareAndSwapAll(ctx context.Context, ms []Mutation) error

	// ListCopies lazily yields the copies of a plan ordered by copy ID.
	// Iteration can be stopped and restarted at any time.
	ListCopies(ctx context.Context, planID string) iter.Seq2[Copy, error]

	// ListPlans returns every plan ID with at least one copy.
	ListPlans(ctx context.Context) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// AuditQuery filters audit records. Zero fields are ignored.
type AuditQuery struct {
	CopyID    string
	PlanID    string
	Operation string
	Result    Result
	From      time.Time
	To        time.Time

	// Limit keeps only the newest Limit matches, still returned oldest
	// first. 0 means no limit.
	Limit int
}

// AuditLog is the append-only record of every accepted and rejected
// transition.
type AuditLog interface {
	// Append stores recs atomically. Records without an ID or timestamp get
	// one assigned.
	Append(ctx context.Context, recs ...AuditRecord) error
	Query(ctx context.Context, q AuditQuery) ([]AuditRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// JobSource reads jobs from the backup catalog.
type JobSource interface {
	Jobs(ctx context.Context, copyID string) ([]Job, error)
}
