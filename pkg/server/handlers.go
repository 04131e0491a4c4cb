package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/audit"
	"mercator-hq/ratchet/pkg/retention/lock"
	"mercator-hq/ratchet/pkg/telemetry/logging"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// ruleRequest is the wire form of a retention rule. Kind accepts the
// aliases understood by retention.ParseKind.
type ruleRequest struct {
	Kind  string `json:"kind"`
	Value uint32 `json:"value"`
}

func (rr ruleRequest) rule() (retention.RetentionRule, error) {
	kind, err := retention.ParseKind(rr.Kind)
	if err != nil {
		return retention.RetentionRule{}, retention.Reject(retention.CodeInvalidRetentionRule, err.Error())
	}
	return retention.RetentionRule{Kind: kind, Value: rr.Value}, nil
}

// extendedRequest is the wire form of an extended retention rule.
// Frequency accepts labels such as "Monthly Fulls".
type extendedRequest struct {
	Frequency string `json:"frequency"`
	Days      uint32 `json:"days"`
}

func extendedRules(reqs []extendedRequest) ([]retention.ExtendedRule, error) {
	rules := make([]retention.ExtendedRule, 0, len(reqs))
	for _, er := range reqs {
		f, err := retention.ParseFrequency(er.Frequency)
		if err != nil {
			return nil, retention.Reject(retention.CodeInvalidRetentionRule, err.Error())
		}
		rules = append(rules, retention.ExtendedRule{Frequency: f, Days: er.Days})
	}
	return rules, nil
}

type createCopyRequest struct {
	CopyID    string            `json:"copy_id"`
	CopyType  string            `json:"copy_type"`
	Retention *ruleRequest      `json:"retention"`
	Extended  []extendedRequest `json:"extended_retention"`
	Locked    bool              `json:"locked"`

	// LockSource is "pool" for copies created on a WORM storage pool.
	LockSource string `json:"lock_source"`
}

type lockRequest struct {
	Source string `json:"source"`
}

type extendedRetentionRequest struct {
	Rules []extendedRequest `json:"rules"`
}

type versionResponse struct {
	CopyID  string `json:"copy_id,omitempty"`
	Version uint64 `json:"version"`
}

func (s *Server) createCopy(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "plan_id")
	var req createCopyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c := retention.Copy{
		CopyID:        req.CopyID,
		PlanID:        planID,
		CopyType:      retention.CopyType(req.CopyType),
		RetentionRule: retention.Days(s.cfg.Retention.PlanDefaultDays),
		LockState:     retention.LockState{Locked: req.Locked, Source: retention.LockSource(req.LockSource)},
	}
	if c.CopyID == "" {
		c.CopyID = uuid.NewString()
	}
	if req.Retention != nil {
		rule, err := req.Retention.rule()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		c.RetentionRule = rule
	}
	ext, err := extendedRules(req.Extended)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c.ExtendedRules = ext

	created, err := s.deps.Store.CreateCopy(r.Context(), c, logging.GetActor(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/copies/"+created.CopyID)
	w.Header().Set("ETag", etag(created.Version))
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listCopies(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "plan_id")
	copies := []retention.Copy{}
	for c, err := range s.deps.Store.ListCopies(r.Context(), planID) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		copies = append(copies, c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan_id": planID, "copies": copies})
}

func (s *Server) getCopy(w http.ResponseWriter, r *http.Request) {
	in, err := s.deps.Locks.Inspect(r.Context(), chi.URLParam(r, "copy_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(in.Copy.Version))
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) enableLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.versioned(w, r, func(ctx context.Context, copyID string, opts []lock.Option) (uint64, error) {
		if req.Source != "" {
			opts = append(opts, lock.WithLockSource(retention.LockSource(req.Source)))
		}
		return s.deps.Locks.EnableLock(ctx, copyID, opts...)
	})
}

func (s *Server) disableLock(w http.ResponseWriter, r *http.Request) {
	s.versioned(w, r, func(ctx context.Context, copyID string, opts []lock.Option) (uint64, error) {
		return s.deps.Locks.DisableLock(ctx, copyID, opts...)
	})
}

func (s *Server) changeRetention(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rule, err := req.rule()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.versioned(w, r, func(ctx context.Context, copyID string, opts []lock.Option) (uint64, error) {
		return s.deps.Locks.ChangeRetention(ctx, copyID, rule, opts...)
	})
}

func (s *Server) changeExtendedRetention(w http.ResponseWriter, r *http.Request) {
	var req extendedRetentionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rules, err := extendedRules(req.Rules)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.versioned(w, r, func(ctx context.Context, copyID string, opts []lock.Option) (uint64, error) {
		return s.deps.Locks.ChangeExtendedRetention(ctx, copyID, rules, opts...)
	})
}

func (s *Server) deleteCopy(w http.ResponseWriter, r *http.Request) {
	s.versioned(w, r, func(ctx context.Context, copyID string, opts []lock.Option) (uint64, error) {
		return 0, s.deps.Locks.DeleteCopy(ctx, copyID, opts...)
	})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	s.versioned(w, r, func(ctx context.Context, copyID string, opts []lock.Option) (uint64, error) {
		return s.deps.Locks.DeleteJob(ctx, copyID, jobID, opts...)
	})
}

func (s *Server) deletePlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "plan_id")
	opts, err := expectedVersion(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Locks.DeletePlan(r.Context(), planID, opts...); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan_id": planID, "deleted": true})
}

// versioned runs a copy mutation with the If-Match version, if any, and
// answers with the new version.
func (s *Server) versioned(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, copyID string, opts []lock.Option) (uint64, error)) {
	copyID := chi.URLParam(r, "copy_id")
	opts, err := expectedVersion(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := logging.WithCopyID(r.Context(), copyID)
	version, err := op(ctx, copyID, opts)
	if err != nil {
		s.writeError(w, r.WithContext(ctx), err)
		return
	}
	if version > 0 {
		w.Header().Set("ETag", etag(version))
	}
	writeJSON(w, http.StatusOK, versionResponse{CopyID: copyID, Version: version})
}

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	q, err := s.auditQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	exp, err := audit.NewExporter(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, retention.Reject(retention.CodeInvalidRequest, err.Error()))
		return
	}

	records, err := s.deps.Audit.Query(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", exp.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := exp.Export(r.Context(), records, w); err != nil {
		s.logger.ErrorContext(r.Context(), "audit export failed", "error", err)
	}
}

func (s *Server) auditQuery(r *http.Request) (retention.AuditQuery, error) {
	v := r.URL.Query()
	q := retention.AuditQuery{
		CopyID:    v.Get("copy_id"),
		PlanID:    v.Get("plan_id"),
		Operation: v.Get("operation"),
		Result:    retention.Result(v.Get("result")),
		Limit:     s.cfg.Audit.DefaultQueryLimit,
	}
	var err error
	if q.From, err = parseTime(v.Get("from")); err != nil {
		return q, invalid("from", err)
	}
	if q.To, err = parseTime(v.Get("to")); err != nil {
		return q, invalid("to", err)
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return q, invalid("limit", fmt.Errorf("must be a positive integer"))
		}
		q.Limit = n
	}
	if limit := s.cfg.Audit.MaxQueryLimit; limit > 0 && q.Limit > limit {
		q.Limit = limit
	}
	return q, nil
}

func (s *Server) previewAging(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Aging.Preview(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) runAging(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Aging.RunNow(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// expectedVersion parses If-Match. Quotes and a weak prefix are tolerated.
func expectedVersion(r *http.Request) ([]lock.Option, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return nil, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return nil, invalid("If-Match", fmt.Errorf("%q is not a copy version", raw))
	}
	return []lock.Option{lock.WithExpectedVersion(v)}, nil
}

func etag(version uint64) string {
	return `"` + strconv.FormatUint(version, 10) + `"`
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return retention.Reject(retention.CodeInvalidRequest, "invalid request body: "+err.Error())
	}
	return nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func invalid(field string, err error) error {
	return retention.Reject(retention.CodeInvalidRequest, fmt.Sprintf("invalid %s: %v", field, err))
}
