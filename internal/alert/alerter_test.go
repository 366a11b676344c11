package alert

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAlert() Alert {
	return Alert{
		Type:    AlertTypeUnhealthy,
		Chain:   "solana",
		Network: "devnet",
		Title:   "Tracker unhealthy",
		Message: "2 problems detected",
		Fields: map[string]string{
			"problem_2": "subscription mismatch: 1 live watches for 2 subscribed addresses",
			"problem_1": "ledger connectivity: connection refused",
		},
	}
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32, *[][]byte) {
	t.Helper()
	var count atomic.Int32
	var mu sync.Mutex
	bodies := [][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		count.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &count, &bodies
}

func TestMultiAlerter_Send_AllChannels(t *testing.T) {
	slackSrv, slackCount, _ := countingServer(t, http.StatusOK)
	hookSrv, hookCount, _ := countingServer(t, http.StatusOK)

	multi := NewMultiAlerter(time.Hour, testLogger(), NewSlackAlerter(slackSrv.URL), NewWebhookAlerter(hookSrv.URL))

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(1), slackCount.Load())
	assert.Equal(t, int32(1), hookCount.Load())
}

func TestMultiAlerter_CooldownDedup(t *testing.T) {
	srv, count, _ := countingServer(t, http.StatusOK)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	multi := NewMultiAlerter(time.Minute, testLogger(), NewWebhookAlerter(srv.URL))
	multi.nowFn = func() time.Time { return now }

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	require.NoError(t, multi.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(1), count.Load())

	recovery := testAlert()
	recovery.Type = AlertTypeRecovery
	require.NoError(t, multi.Send(context.Background(), recovery))
	assert.Equal(t, int32(2), count.Load(), "different type has its own cooldown")

	now = now.Add(2 * time.Minute)
	require.NoError(t, multi.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(3), count.Load())
}

func TestMultiAlerter_ClearCooldown(t *testing.T) {
	srv, count, _ := countingServer(t, http.StatusOK)
	multi := NewMultiAlerter(time.Hour, testLogger(), NewWebhookAlerter(srv.URL))

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	multi.ClearCooldown(AlertTypeUnhealthy, "solana", "devnet")
	require.NoError(t, multi.Send(context.Background(), testAlert()))

	assert.Equal(t, int32(2), count.Load())
}

func TestMultiAlerter_PartialFailureStillFansOut(t *testing.T) {
	bad, _, _ := countingServer(t, http.StatusInternalServerError)
	good, goodCount, _ := countingServer(t, http.StatusOK)

	multi := NewMultiAlerter(time.Hour, testLogger(), NewSlackAlerter(bad.URL), NewWebhookAlerter(good.URL))

	err := multi.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack returned status 500")
	assert.Equal(t, int32(1), goodCount.Load())
}

func TestSlackAlerter_PayloadFieldsSorted(t *testing.T) {
	srv, _, bodies := countingServer(t, http.StatusOK)

	require.NoError(t, NewSlackAlerter(srv.URL).Send(context.Background(), testAlert()))
	require.Len(t, *bodies, 1)

	var payload map[string]string
	require.NoError(t, json.Unmarshal((*bodies)[0], &payload))
	assert.Equal(t,
		":warning: *[UNHEALTHY]* solana/devnet: Tracker unhealthy\n2 problems detected\n"+
			"- *problem_1*: ledger connectivity: connection refused\n"+
			"- *problem_2*: subscription mismatch: 1 live watches for 2 subscribed addresses\n",
		payload["text"])
}

func TestWebhookAlerter_Payload(t *testing.T) {
	srv, _, bodies := countingServer(t, http.StatusAccepted)

	hook := NewWebhookAlerter(srv.URL)
	hook.nowFn = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	alert := testAlert()
	alert.Type = AlertTypeRecoveryFailed
	require.NoError(t, hook.Send(context.Background(), alert))

	var payload map[string]any
	require.NoError(t, json.Unmarshal((*bodies)[0], &payload))
	assert.Equal(t, "RECOVERY_FAILED", payload["type"])
	assert.Equal(t, "solana", payload["chain"])
	assert.Equal(t, "2025-03-01T12:00:00Z", payload["time"])
	assert.Len(t, payload["fields"], 2)
}

func TestWebhookAlerter_ConnectionError(t *testing.T) {
	err := NewWebhookAlerter("http://127.0.0.1:1").Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send webhook alert")
}

func TestNew_SelectsChannels(t *testing.T) {
	assert.IsType(t, &NoopAlerter{}, New(Config{}, testLogger()))

	a := New(Config{SlackWebhookURL: "http://slack", WebhookURL: "http://hook", Cooldown: time.Minute}, testLogger())
	multi, ok := a.(*MultiAlerter)
	require.True(t, ok)
	require.Len(t, multi.alerters, 2)
	assert.Equal(t, "slack", alerterName(multi.alerters[0]))
	assert.Equal(t, "webhook", alerterName(multi.alerters[1]))
	assert.Equal(t, time.Minute, multi.cooldown)
}

func TestNoopAlerter(t *testing.T) {
	assert.NoError(t, (&NoopAlerter{}).Send(context.Background(), testAlert()))
}
