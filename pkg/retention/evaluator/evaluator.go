package evaluator

import (
	"cmp"
	"math"
	"slices"
	"time"

	"mercator-hq/ratchet/pkg/retention"
)

const day = 24 * time.Hour

// maxWindowDays is the largest day count representable as a time.Duration.
// Longer windows never expire.
const maxWindowDays = math.MaxInt64 / int64(day)

// JobStatus is the retention verdict for a single job.
type JobStatus struct {
	Job     retention.Job `json:"job"`
	Expired bool          `json:"expired"`

	// ExpiresAt is set for day-based rules.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// CyclesNewer counts full cycles newer than the job's cycle. Set for
	// job-based rules.
	CyclesNewer *int `json:"cycles_newer,omitempty"`

	// ExtendedBy names the extended rule keeping a job the base rule has
	// expired. ExtendedUntil is nil when that rule never runs out.
	ExtendedBy    retention.Frequency `json:"extended_by,omitempty"`
	ExtendedUntil *time.Time          `json:"extended_until,omitempty"`
}

// Explain returns a verdict for every job, in the order given. A job the
// base rule has expired stays retained while any extended rule selects it
// and its extended window is still open.
//
// The result depends only on the arguments: calling Explain twice with the
// same rules, jobs and now yields the same verdicts.
func Explain(rule retention.RetentionRule, jobs []retention.Job, now time.Time, extended ...retention.ExtendedRule) []JobStatus {
	out := make([]JobStatus, len(jobs))
	switch rule.Kind {
	case retention.KindJobBased:
		newer := cyclesNewer(jobs)
		for i, j := range jobs {
			n := newer[i]
			out[i] = JobStatus{
				Job:         j,
				Expired:     n >= int(rule.Value),
				CyclesNewer: &n,
			}
		}
	default:
		for i, j := range jobs {
			out[i] = daysStatus(rule.Value, j, now)
		}
	}
	if len(extended) > 0 {
		applyExtended(out, jobs, extended, now)
	}
	return out
}

// IsExpired reports whether job is outside its retention window. jobs is the
// full job list of the copy and is needed for job-based and extended rules.
func IsExpired(rule retention.RetentionRule, job retention.Job, jobs []retention.Job, now time.Time, extended ...retention.ExtendedRule) bool {
	if rule.Kind != retention.KindJobBased && len(extended) == 0 {
		return daysStatus(rule.Value, job, now).Expired
	}
	for _, st := range Explain(rule, jobs, now, extended...) {
		if st.Job.JobID == job.JobID {
			return st.Expired
		}
	}
	if rule.Kind != retention.KindJobBased {
		return daysStatus(rule.Value, job, now).Expired
	}
	// A job unknown to the copy has nothing left to protect in it.
	return true
}

// ExpiredJobs returns the expired subset of jobs.
func ExpiredJobs(rule retention.RetentionRule, jobs []retention.Job, now time.Time, extended ...retention.ExtendedRule) []retention.Job {
	var out []retention.Job
	for _, st := range Explain(rule, jobs, now, extended...) {
		if st.Expired {
			out = append(out, st.Job)
		}
	}
	return out
}

// ActiveJobs returns the jobs that are still retained, shaped for rejection
// details.
func ActiveJobs(rule retention.RetentionRule, jobs []retention.Job, now time.Time, extended ...retention.ExtendedRule) []retention.ActiveJob {
	var out []retention.ActiveJob
	for _, st := range Explain(rule, jobs, now, extended...) {
		if !st.Expired {
			out = append(out, retention.ActiveJob{
				JobID:         st.Job.JobID,
				ExpiresAt:     st.ExpiresAt,
				CyclesNewer:   st.CyclesNewer,
				ExtendedUntil: st.ExtendedUntil,
			})
		}
	}
	return out
}

// IsCopyDeletable reports whether every job is expired. A copy with no jobs
// is deletable.
func IsCopyDeletable(rule retention.RetentionRule, jobs []retention.Job, now time.Time, extended ...retention.ExtendedRule) bool {
	for _, st := range Explain(rule, jobs, now, extended...) {
		if !st.Expired {
			return false
		}
	}
	return true
}

func daysStatus(days uint32, j retention.Job, now time.Time) JobStatus {
	if int64(days) > maxWindowDays {
		return JobStatus{Job: j}
	}
	expiresAt := j.CreatedAt.Add(time.Duration(days) * day)
	return JobStatus{
		Job: j,
		// Exactly N days old is still inside the window.
		Expired:   now.Sub(j.CreatedAt) > time.Duration(days)*day,
		ExpiresAt: &expiresAt,
	}
}

// applyExtended revives base-expired jobs that an extended rule still keeps.
// When several rules keep the same job the longest window wins.
func applyExtended(out []JobStatus, jobs []retention.Job, extended []retention.ExtendedRule, now time.Time) {
	baseExpired := make([]bool, len(out))
	for i := range out {
		baseExpired[i] = out[i].Expired
	}

	for _, rule := range extended {
		for _, idx := range selectFulls(jobs, rule.Frequency) {
			if !baseExpired[idx] {
				continue
			}
			ext := daysStatus(rule.Days, jobs[idx], now)
			if ext.Expired {
				continue
			}
			st := &out[idx]
			if st.ExtendedBy != "" && outlasts(st.ExtendedUntil, ext.ExpiresAt) {
				continue
			}
			st.Expired = false
			st.ExtendedBy = rule.Frequency
			st.ExtendedUntil = ext.ExpiresAt
		}
	}
}

// outlasts reports whether window a ends no earlier than b. nil never ends.
func outlasts(a, b *time.Time) bool {
	if a == nil {
		return true
	}
	if b == nil {
		return false
	}
	return !a.Before(*b)
}

// selectFulls returns the indexes of the full jobs a frequency selects: the
// earliest full of every UTC calendar period, or every full for all_fulls.
func selectFulls(jobs []retention.Job, f retention.Frequency) []int {
	var out []int
	first := make(map[int]int)
	for i, j := range jobs {
		if !j.IsFull {
			continue
		}
		if f == retention.FrequencyAllFulls {
			out = append(out, i)
			continue
		}
		key := period(j.CreatedAt, f)
		if cur, ok := first[key]; !ok || before(j, jobs[cur]) {
			first[key] = i
		}
	}
	for _, i := range first {
		out = append(out, i)
	}
	return out
}

func before(a, b retention.Job) bool {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c < 0
	}
	return a.JobID < b.JobID
}

// period maps t to a sequence number of its calendar period.
func period(t time.Time, f retention.Frequency) int {
	t = t.UTC()
	year, month := t.Year(), int(t.Month())-1
	switch f {
	case retention.FrequencyWeekly:
		y, w := t.ISOWeek()
		return y*53 + w
	case retention.FrequencyMonthly:
		return year*12 + month
	case retention.FrequencyQuarterly:
		return year*4 + month/3
	case retention.FrequencyHalfYearly:
		return year*2 + month/6
	default:
		return year
	}
}

// cyclesNewer returns, for each job, the number of full cycles that start
// after the job's own cycle.
//
// Jobs are ordered by (cycle_number, created_at, job_id). Every full job opens
// a cycle and later non-full jobs join it. Non-full jobs ordered before the
// first full belong to a leading partial cycle that is older than every full
// cycle.
func cyclesNewer(jobs []retention.Job) []int {
	order := make([]int, len(jobs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ja, jb := jobs[a], jobs[b]
		if c := cmp.Compare(ja.CycleNumber, jb.CycleNumber); c != 0 {
			return c
		}
		if c := ja.CreatedAt.Compare(jb.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(ja.JobID, jb.JobID)
	})

	cycle := make([]int, len(jobs))
	fulls := 0
	for _, idx := range order {
		if jobs[idx].IsFull {
			fulls++
		}
		// 0 for the leading partial cycle, k for the k-th full cycle.
		cycle[idx] = fulls
	}

	newer := make([]int, len(jobs))
	for i, c := range cycle {
		newer[i] = fulls - c
	}
	return newer
}
