// Package worker reacts to attendance events off the request path.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/queue"
)

// Balances is the read side the worker needs.
type Balances interface {
	GetAttendance(ctx context.Context, courseID string) ([]attendance.AttendanceRow, error)
}

// Flagger records which students are low on hours.
type Flagger interface {
	Observe(ctx context.Context, balances map[string]int) ([]string, error)
	Threshold() int
}

// Worker consumes queue messages and maintains the low-balance set.
type Worker struct {
	balances Balances
	flagger  Flagger
	log      *zap.Logger
}

func New(balances Balances, flagger Flagger, log *zap.Logger) *Worker {
	return &Worker{balances: balances, flagger: flagger, log: log}
}

// Run processes messages until the channel closes.
func (w *Worker) Run(ctx context.Context, messages <-chan queue.Message) {
	w.log.Info("worker started, waiting for messages")
	for msg := range messages {
		if err := w.Handle(ctx, msg); err != nil {
			w.log.Error("message failed", zap.String("type", msg.Type), zap.Error(err))
		}
	}
	w.log.Info("worker stopped")
}

// Handle processes one message. Unknown types are ignored.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != queue.TypeAttendanceRecorded {
		w.log.Debug("ignoring message", zap.String("type", msg.Type))
		return nil
	}
	var evt queue.AttendanceRecorded
	if err := msg.Decode(&evt); err != nil {
		return err
	}

	start := time.Now()
	rows, err := w.balances.GetAttendance(ctx, evt.CourseID)
	if err != nil {
		return err
	}
	// Rows carry the current balance, so any session of the course will do;
	// only students in the submitted session are re-evaluated.
	balances := make(map[string]int)
	for _, r := range rows {
		if r.SessionDate.Format(attendance.DateLayout) == evt.SessionDate {
			balances[r.StudentID] = r.RemainingHours
		}
	}
	flagged, err := w.flagger.Observe(ctx, balances)
	if err != nil {
		return err
	}
	for _, id := range flagged {
		w.log.Info("student balance low",
			zap.String("student_id", id),
			zap.Int("remaining_hours", balances[id]),
			zap.Int("threshold", w.flagger.Threshold()))
	}
	w.log.Debug("attendance event processed",
		zap.String("course_id", evt.CourseID),
		zap.String("session_date", evt.SessionDate),
		zap.Int("students", len(balances)),
		zap.Duration("took", time.Since(start)))
	return nil
}
