package ratelimit_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"kodex/internal/ratelimit"
)

func TestWindow_CheckAndRecordAttempt_EnforcesMax(t *testing.T) {
	w := ratelimit.New(time.Minute, 3, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, w.CheckAndRecordAttempt("user:tenant-a"))
	}

	err := w.CheckAndRecordAttempt("user:tenant-a")
	var exceeded *ratelimit.Exceeded
	require.True(t, errors.As(err, &exceeded))
}

func TestWindow_CheckAndRecordAttempt_IsolatedByKey(t *testing.T) {
	w := ratelimit.New(time.Minute, 1, 0)

	require.NoError(t, w.CheckAndRecordAttempt("user:a"))
	require.NoError(t, w.CheckAndRecordAttempt("user:b"))

	err := w.CheckAndRecordAttempt("user:a")
	require.Error(t, err)
}

func TestWindow_CheckAndRecordSend_EnforcesCooldown(t *testing.T) {
	w := ratelimit.New(time.Minute, 10, time.Hour)

	require.NoError(t, w.CheckAndRecordSend("user:tenant-a:email"))

	err := w.CheckAndRecordSend("user:tenant-a:email")
	var cooldown *ratelimit.Cooldown
	require.True(t, errors.As(err, &cooldown))
}

func TestWindow_CheckAndRecordSend_EnforcesMaxIndependentlyOfCooldown(t *testing.T) {
	w := ratelimit.New(time.Minute, 1, 0)

	require.NoError(t, w.CheckAndRecordSend("user:tenant-a:email"))

	err := w.CheckAndRecordSend("user:tenant-a:email")
	var exceeded *ratelimit.Exceeded
	require.True(t, errors.As(err, &exceeded))
}

func TestIPLimiter_Middleware_RejectsOverBurst(t *testing.T) {
	limiter := ratelimit.NewIPLimiter(rate.Limit(1), 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.1:1234"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestIPLimiter_Middleware_IsolatedByRemoteAddr(t *testing.T) {
	limiter := ratelimit.NewIPLimiter(rate.Limit(1), 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	reqA := httptest.NewRequest(http.MethodGet, "/", nil)
	reqA.RemoteAddr = "203.0.113.1:1234"
	reqB := httptest.NewRequest(http.MethodGet, "/", nil)
	reqB.RemoteAddr = "203.0.113.2:5678"

	recA := httptest.NewRecorder()
	handler.ServeHTTP(recA, reqA)
	require.Equal(t, http.StatusOK, recA.Code)

	recB := httptest.NewRecorder()
	handler.ServeHTTP(recB, reqB)
	require.Equal(t, http.StatusOK, recB.Code, "a different remote address must have its own bucket")
}
