package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"classroll/internal/attendance"
)

func TestRecorder_AttendanceCounters(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordWritten(attendance.StatusPresent)
	r.RecordWritten(attendance.StatusPresent)
	r.RecordWritten(attendance.StatusAbsent)
	r.EntrySkipped(attendance.KindValidation)
	r.BalanceAdjusted(-1)
	r.BalanceAdjusted(-1)
	r.BalanceAdjusted(10)
	r.BalanceAdjusted(0)
	r.ConflictRetried()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.recordsWritten.WithLabelValues("present")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.recordsWritten.WithLabelValues("absent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.entriesSkipped.WithLabelValues("validation")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.balanceChanges.WithLabelValues("debit")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.balanceChanges.WithLabelValues("credit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.conflictRetries))
}

func TestRecorder_GinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := New(prometheus.NewRegistry())
	e := gin.New()
	e.Use(r.GinMiddleware())
	e.GET("/students/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/students/a", "/students/b", "/nowhere"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("/students/:id", "GET", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("unmatched", "GET", "404")))
}
