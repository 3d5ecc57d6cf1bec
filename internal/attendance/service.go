package attendance

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultRecordedBy attributes records when the caller is anonymous.
const DefaultRecordedBy = "teacher"

// Metrics receives recorder events. A nil Metrics is ignored.
type Metrics interface {
	RecordWritten(status Status)
	EntrySkipped(kind Kind)
	BalanceAdjusted(delta int)
	ConflictRetried()
}

// Options tunes a Service.
type Options struct {
	// Parallelism bounds how many students are processed at once.
	Parallelism int
	// MaxAttempts bounds retries of a per-student transaction on ErrConflict.
	MaxAttempts int
	Metrics     Metrics
	Logger      *zap.Logger
}

// Service records attendance and serves the attendance read paths.
type Service struct {
	store       Store
	parallelism int
	maxAttempts int
	metrics     Metrics
	log         *zap.Logger
}

// NewService creates a service backed by a store.
func NewService(store Store, opts Options) *Service {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		parallelism: opts.Parallelism,
		maxAttempts: opts.MaxAttempts,
		metrics:     opts.Metrics,
		log:         opts.Logger,
	}
}

type mark struct {
	StudentID string
	Status    Status
}

type outcome struct {
	delta int
}

// RecordAttendance applies a roster to one course session. Every known
// student missing from the roster is recorded absent. Per-student failures
// are reported in Result.Skips; only course lookup, student listing and an
// invalid date abort the call.
func (s *Service) RecordAttendance(ctx context.Context, courseID string, sessionDate time.Time, roster []Entry, recordedBy string) (Result, error) {
	courseID = strings.TrimSpace(courseID)
	if sessionDate.IsZero() {
		return Result{}, Invalid("session date is required")
	}
	day := Day(sessionDate)
	if recordedBy == "" {
		recordedBy = DefaultRecordedBy
	}

	if courseID == "" {
		return Result{}, NotFound("course not found")
	}
	if _, err := s.store.GetCourse(ctx, courseID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{}, NotFound("course %s not found", courseID)
		}
		return Result{}, Unavailable(err, "load course %s", courseID)
	}

	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return Result{}, Unavailable(err, "list students")
	}

	marks, skips := planRoster(students, roster)
	res := Result{CourseID: courseID, SessionDate: day, Skips: skips}
	for _, sk := range skips {
		s.metrics.EntrySkipped(sk.Kind)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for _, m := range marks {
		g.Go(func() error {
			out, err := s.applyWithRetry(ctx, courseID, day, m, recordedBy)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sk := Skip{StudentID: m.StudentID, Kind: KindOf(err), Reason: skipReason(err)}
				res.Skips = append(res.Skips, sk)
				s.metrics.EntrySkipped(sk.Kind)
				s.log.Warn("attendance entry skipped",
					zap.String("course_id", courseID),
					zap.String("student_id", m.StudentID),
					zap.String("kind", string(sk.Kind)),
					zap.Error(err))
				return nil
			}
			res.Written++
			if m.Status == StatusPresent {
				res.Present++
			} else {
				res.Absent++
			}
			switch {
			case out.delta < 0:
				res.Deducted++
			case out.delta > 0:
				res.Refunded++
			}
			s.metrics.RecordWritten(m.Status)
			if out.delta != 0 {
				s.metrics.BalanceAdjusted(out.delta)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(res.Skips, func(i, j int) bool { return res.Skips[i].StudentID < res.Skips[j].StudentID })
	res.Skipped = len(res.Skips)
	if res.Skips == nil {
		res.Skips = []Skip{}
	}

	s.log.Info("attendance recorded",
		zap.String("course_id", courseID),
		zap.String("session_date", day.Format(DateLayout)),
		zap.Int("written", res.Written),
		zap.Int("skipped", res.Skipped),
		zap.Int("deducted", res.Deducted),
		zap.Int("refunded", res.Refunded))
	return res, nil
}

// planRoster validates entries and fills in absentees. Entries that name a
// student outside the snapshot are kept; the transaction decides whether the
// student exists.
func planRoster(students []Student, roster []Entry) ([]mark, []Skip) {
	var (
		marks     []mark
		skips     []Skip
		mentioned = make(map[string]bool, len(roster))
	)
	for _, e := range roster {
		id := strings.TrimSpace(e.StudentID)
		if id == "" {
			skips = append(skips, Skip{Kind: KindValidation, Reason: "missing student id"})
			continue
		}
		if mentioned[id] {
			skips = append(skips, Skip{StudentID: id, Kind: KindValidation, Reason: "student listed more than once"})
			continue
		}
		mentioned[id] = true
		status, ok := ParseStatus(string(e.Status))
		if !ok {
			skips = append(skips, Skip{StudentID: id, Kind: KindValidation, Reason: "unrecognized status " + strings.TrimSpace(string(e.Status))})
			continue
		}
		marks = append(marks, mark{StudentID: id, Status: status})
	}
	for _, st := range students {
		if !mentioned[st.ID] {
			marks = append(marks, mark{StudentID: st.ID, Status: StatusAbsent})
		}
	}
	return marks, skips
}

func (s *Service) applyWithRetry(ctx context.Context, courseID string, day time.Time, m mark, recordedBy string) (outcome, error) {
	for attempt := 1; ; attempt++ {
		out, err := s.apply(ctx, courseID, day, m, recordedBy)
		if err == nil || !errors.Is(err, ErrConflict) {
			return out, err
		}
		if attempt >= s.maxAttempts {
			return outcome{}, &Error{Kind: KindConflict, Message: "balance update kept conflicting", Err: err}
		}
		if ctx.Err() != nil {
			return outcome{}, Unavailable(ctx.Err(), "request cancelled")
		}
		s.metrics.ConflictRetried()
	}
}

// apply runs the per-student transaction. At most one unit of balance is ever
// consumed per (course, student, session): a record already marked deducted
// is not charged again, and flipping it to absent refunds the unit.
func (s *Service) apply(ctx context.Context, courseID string, day time.Time, m mark, recordedBy string) (outcome, error) {
	var out outcome
	err := s.store.InStudentTx(ctx, m.StudentID, func(tx StudentTx) error {
		prev, found, err := tx.GetRecord(courseID, day)
		if err != nil {
			return err
		}
		deducted := found && prev.Deducted
		delta := 0
		switch {
		case m.Status == StatusPresent && !deducted:
			if tx.Student().RemainingHours > 0 {
				delta, deducted = -1, true
			}
		case m.Status == StatusAbsent && deducted:
			delta, deducted = 1, false
		}
		if delta != 0 {
			if _, err := tx.UpdateBalance(delta); err != nil {
				return err
			}
		}
		rec := Record{
			CourseID:    courseID,
			StudentID:   m.StudentID,
			SessionDate: day,
			Status:      m.Status,
			Deducted:    deducted,
			RecordedBy:  recordedBy,
		}
		if found {
			rec.ID = prev.ID
		}
		if _, err := tx.UpsertRecord(rec); err != nil {
			return err
		}
		out.delta = delta
		return nil
	})
	return out, err
}

func skipReason(err error) string {
	if KindOf(err) == KindConflict {
		return "balance update kept conflicting"
	}
	return MessageOf(err)
}

// GetAttendance lists every record of a course joined with current student
// data. An unknown course yields an empty list.
func (s *Service) GetAttendance(ctx context.Context, courseID string) ([]AttendanceRow, error) {
	rows, err := s.store.ListAttendanceByCourse(ctx, courseID)
	if err != nil {
		return nil, Unavailable(err, "list attendance for course %s", courseID)
	}
	if rows == nil {
		rows = []AttendanceRow{}
	}
	return rows, nil
}

// GetSummary is the reporting view of a course: the same rows ordered by
// student name, optionally limited to one session.
func (s *Service) GetSummary(ctx context.Context, courseID string, sessionDate *time.Time) ([]AttendanceRow, error) {
	rows, err := s.GetAttendance(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if sessionDate != nil {
		day := Day(*sessionDate)
		filtered := rows[:0]
		for _, r := range rows {
			if Day(r.SessionDate).Equal(day) {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].StudentNumber < rows[j].StudentNumber
	})
	return rows, nil
}

// AddHours tops up (or corrects) a student's balance.
func (s *Service) AddHours(ctx context.Context, studentID string, delta int) (int, error) {
	if delta == 0 {
		return 0, Invalid("delta must not be zero")
	}
	balance, err := s.store.UpdateStudentBalance(ctx, studentID, delta)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, NotFound("student %s not found", studentID)
		}
		return 0, Unavailable(err, "update balance of student %s", studentID)
	}
	s.metrics.BalanceAdjusted(delta)
	return balance, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordWritten(Status) {}
func (nopMetrics) EntrySkipped(Kind)    {}
func (nopMetrics) BalanceAdjusted(int)  {}
func (nopMetrics) ConflictRetried()     {}
