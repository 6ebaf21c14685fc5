package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

// --- Helpers ---

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type probeBody struct {
	status string
	checks map[string]string
}

func decode(t *testing.T, w *httptest.ResponseRecorder) probeBody {
	t.Helper()
	var b probeBody
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			v, err := d.Str()
			b.status = v
			return err
		case "checks":
			b.checks = map[string]string{}
			return d.Obj(func(d *jx.Decoder, name string) error {
				v, err := d.Str()
				b.checks[name] = v
				return err
			})
		default:
			return d.Skip()
		}
	}))
	return b
}

func serve(fn http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	fn(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

// --- Tests ---

func TestLiveEndpoint(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		runs     int
		wantCode int
	}{
		{"healthy until first run", 0, http.StatusOK},
		{"below failure threshold", failureThreshold - 1, http.StatusOK},
		{"at failure threshold", failureThreshold, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("ok", time.Second, passing)
			h.AddLivenessCheck("db", time.Second, failing("connection refused"))
			for range tt.runs {
				h.liveness[1].run(ctx)
			}

			w := serve(h.LiveEndpoint)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			body := decode(t, w)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "ok", body.status)
				assert.Empty(t, body.checks)
				return
			}
			assert.Equal(t, "unhealthy", body.status)
			assert.Equal(t, map[string]string{"db": "connection refused"}, body.checks)
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passing)

	body := decode(t, serve(h.ReadyEndpoint))
	assert.Equal(t, "unhealthy", body.status)
	assert.Contains(t, body.checks, "_readiness")
	assert.False(t, h.IsReady())

	h.SetReady(true)
	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h.ReadyEndpoint).Code)
}

func TestReadyEndpoint_FailingCheck(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passing)
	h.AddReadinessCheck("amqp", time.Second, failing("channel closed"))
	h.SetReady(true)
	for range failureThreshold {
		h.readiness[1].run(context.Background())
	}

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, map[string]string{"amqp": "channel closed"}, decode(t, w).checks)
	assert.False(t, h.IsReady())
}

func TestCheckRecovers(t *testing.T) {
	down := true
	h := New()
	h.AddLivenessCheck("flaky", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})
	c := h.liveness[0]
	ctx := context.Background()

	for range failureThreshold {
		c.run(ctx)
	}
	_, failed := c.failure()
	assert.True(t, failed)

	down = false
	c.run(ctx)
	_, failed = c.failure()
	assert.False(t, failed)
}

func TestStartStop_Concurrent(t *testing.T) {
	h := New()
	h.AddLivenessCheck("err", time.Second, failing("err"))
	h.AddReadinessCheck("ok", time.Second, passing)
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return serve(h.LiveEndpoint).Code == http.StatusServiceUnavailable
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	assert.ErrorContains(t, GoroutineCountCheck(0)(ctx), "exceeds threshold")

	assert.NoError(t, PingCheck(fakePinger{})(ctx))
	assert.ErrorContains(t, PingCheck(fakePinger{err: errors.New("refused")})(ctx), "refused")

	depth := 5
	check := BacklogCheck(func() int { return depth }, 10)
	assert.NoError(t, check(ctx))
	depth = 11
	assert.ErrorContains(t, check(ctx), "backlog 11 exceeds 10")
}
