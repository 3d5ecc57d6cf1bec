package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startHub(t *testing.T, origins []string) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(origins, zap.NewNop())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestHub_BroadcastsToDashboards(t *testing.T) {
	hub, url := startHub(t, nil)

	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	require.Eventually(t, func() bool { return hub.Clients(ctx) == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(TypeAttendanceRecorded, map[string]any{"courseId": "c1", "written": 2})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, TypeAttendanceRecorded, evt.Type)
	assert.Equal(t, "c1", evt.Payload["courseId"])
	assert.EqualValues(t, 2, evt.Payload["written"])

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients(ctx) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	_, url := startHub(t, []string{"https://admin.example"})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := ws.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://admin.example")
	conn, _, err := ws.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}
