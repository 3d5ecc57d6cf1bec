package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthlyReport_BoundsAreInclusive(t *testing.T) {
	f := newFixture(t, 5, 5)
	ctx := context.Background()

	for _, d := range []string{"2025-04-30", "2025-05-01", "2025-05-31", "2025-06-01"} {
		_, err := f.svc.RecordAttendance(ctx, f.course.ID, day(t, d), []Entry{{StudentID: f.a.ID, Status: StatusPresent}}, "")
		require.NoError(t, err)
	}

	rows, err := MonthlyReport(ctx, f.store, 2025, time.May)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "2025-05-01", rows[0].SessionDate.Format(DateLayout))
	assert.Equal(t, "Alice", rows[0].StudentName)
	assert.Equal(t, "Ms. Lin", rows[0].TeacherName)
	assert.Equal(t, "2025-05-31", rows[3].SessionDate.Format(DateLayout))

	rows, err = MonthlyReport(ctx, f.store, 2024, time.January)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestStudentHistory(t *testing.T) {
	f := newFixture(t, 5, 5)
	ctx := context.Background()

	for _, d := range []string{"2025-05-04", "2025-05-11"} {
		_, err := f.svc.RecordAttendance(ctx, f.course.ID, day(t, d), []Entry{{StudentID: f.a.ID, Status: StatusPresent}}, "")
		require.NoError(t, err)
	}

	rows, err := StudentHistory(ctx, f.store, f.a.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2025-05-11", rows[0].SessionDate.Format(DateLayout))
	assert.Equal(t, "Algebra", rows[0].CourseName)
	assert.True(t, rows[0].Deducted)

	_, err = StudentHistory(ctx, f.store, "ghost")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestParseMonth(t *testing.T) {
	y, m, err := ParseMonth("2025-02")
	require.NoError(t, err)
	assert.Equal(t, 2025, y)
	assert.Equal(t, time.February, m)

	_, _, err = ParseMonth("2025/02")
	assert.Equal(t, KindValidation, KindOf(err))
}
