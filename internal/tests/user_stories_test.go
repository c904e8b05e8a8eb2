package tests

// User story tests for the drip engine. Each story drives the public HTTP
// surface and the dispatcher together against the in-memory store, a
// miniredis-backed suppression cache and a recording sender.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/drip-engine/internal/api"
	"github.com/ignite/drip-engine/internal/cache"
	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/mailing"
	"github.com/ignite/drip-engine/internal/pkg/distlock"
	"github.com/ignite/drip-engine/internal/repository/memory"
	"github.com/ignite/drip-engine/internal/sending"
	"github.com/ignite/drip-engine/internal/service/drip"
	"github.com/ignite/drip-engine/internal/service/suppression"
	"github.com/ignite/drip-engine/internal/worker"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// TestContext holds shared test infrastructure
type TestContext struct {
	Clock  *testClock
	Store  *memory.Store
	Drip   *drip.Service
	Supp   *suppression.Service
	Signer *mailing.UnsubscribeSigner
	Render *mailing.Renderer
	Sender *sending.LogSender
	Redis  *redis.Client
	MiniR  *miniredis.Miniredis
	API    *httptest.Server
	Ctx    context.Context
}

func setupTestContext(t *testing.T) *TestContext {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	tc := &TestContext{
		Clock:  &testClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
		Store:  memory.New(),
		Sender: sending.NewLogSender(),
		Redis:  client,
		MiniR:  mr,
		Ctx:    ctx,
	}
	tc.Drip = drip.NewService(tc.Store, drip.WithClock(tc.Clock.Now))
	tc.Supp = suppression.NewService(tc.Store,
		suppression.WithClock(tc.Clock.Now),
		suppression.WithCache(cache.NewSuppressionCache(client, time.Hour)))
	tc.Signer = mailing.NewUnsubscribeSigner("story-secret", "https://academy.example.com")
	tc.Render = mailing.NewRenderer(tc.Signer, mailing.Sender{FromName: "Academy", FromEmail: "hello@academy.example.com"})

	srv := api.NewServer(tc.Drip, tc.Supp, tc.Signer, nil, api.SNSOptions{})
	tc.API = httptest.NewServer(srv.Routes(nil))
	t.Cleanup(tc.API.Close)
	return tc
}

func (tc *TestContext) dispatcher(lock distlock.DistLock) *worker.DripDispatcher {
	return worker.NewDripDispatcher(tc.Drip, tc.Supp, tc.Render, tc.Sender, lock,
		worker.DispatcherConfig{BatchSize: 100, MaxSendAttempts: 1})
}

func (tc *TestContext) post(t *testing.T, path string, body any, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(tc.API.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// welcomeSeries creates and activates a campaign through the API.
func (tc *TestContext) welcomeSeries(t *testing.T, trigger string, cfg map[string]any, delays ...int) string {
	t.Helper()
	var c domain.Campaign
	require.Equal(t, http.StatusCreated, tc.post(t, "/api/campaigns", map[string]any{
		"store_id": "academy", "name": "Welcome", "trigger_type": trigger, "trigger_config": cfg,
	}, &c))
	for i, d := range delays {
		require.Equal(t, http.StatusCreated, tc.post(t, "/api/campaigns/"+c.ID+"/steps", map[string]any{
			"step_number":   i + 1,
			"delay_minutes": d,
			"subject":       fmt.Sprintf("Day %d, {{ firstName }}", i+1),
			"html_content":  "<p>Hi {{ first_name | default: 'friend' }}</p>",
		}, nil))
	}
	require.Equal(t, http.StatusOK, tc.post(t, "/api/campaigns/"+c.ID+"/toggle", nil, nil))
	return c.ID
}

func (tc *TestContext) sweep(t *testing.T) worker.SweepStats {
	t.Helper()
	stats, err := tc.dispatcher(nil).RunOnce(tc.Ctx)
	require.NoError(t, err)
	return stats
}

func (tc *TestContext) sentTo(email string) []domain.EmailMessage {
	var out []domain.EmailMessage
	for _, m := range tc.Sender.Sent() {
		if m.Email == email {
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// US-001: Three-step welcome series on signup
// =============================================================================

func TestUS001_WelcomeSeries(t *testing.T) {
	tc := setupTestContext(t)
	tc.welcomeSeries(t, "lead_signup", nil, 0, 1440, 4320)

	var res drip.TriggerResult
	require.Equal(t, http.StatusOK, tc.post(t, "/api/events", map[string]any{
		"store_id": "academy", "trigger_type": "lead_signup", "email": "grace@example.com", "name": "Grace Hopper",
	}, &res))
	require.Equal(t, 1, res.Enrolled)

	assert.Equal(t, 1, tc.sweep(t).Sent)

	tc.Clock.Advance(23 * time.Hour)
	assert.Zero(t, tc.sweep(t).Due, "step 2 is not due before 24h")

	tc.Clock.Advance(time.Hour)
	assert.Equal(t, 1, tc.sweep(t).Sent)

	tc.Clock.Advance(72 * time.Hour)
	assert.Equal(t, 1, tc.sweep(t).Sent)

	sent := tc.sentTo("grace@example.com")
	require.Len(t, sent, 3)
	assert.Equal(t, "Day 1, Grace", sent[0].Subject)
	assert.Equal(t, "Day 3, Grace", sent[2].Subject)
	for _, m := range sent {
		assert.Contains(t, m.HTMLContent, "https://academy.example.com/unsubscribe/")
		assert.NotEmpty(t, m.Headers["List-Unsubscribe"])
	}

	list, err := tc.Drip.GetEnrollmentsByEmail(tc.Ctx, "grace@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.EnrollmentCompleted, list[0].Status)
}

// =============================================================================
// US-002: Recipient unsubscribes from the footer link mid-sequence
// =============================================================================

func TestUS002_UnsubscribeMidSequence(t *testing.T) {
	tc := setupTestContext(t)
	tc.welcomeSeries(t, "lead_signup", nil, 0, 60, 60)
	tc.post(t, "/api/events", map[string]any{
		"store_id": "academy", "trigger_type": "lead_signup", "email": "alan@example.com",
	}, nil)
	tc.Store.PutWorkflowExecution(domain.WorkflowExecution{
		ID: "wf-1", WorkflowID: "nurture", StoreID: "academy", CustomerEmail: "alan@example.com",
		Status: domain.WorkflowRunning,
	})

	require.Equal(t, 1, tc.sweep(t).Sent)

	resp, err := http.Get(tc.API.URL + "/unsubscribe/" + tc.Signer.Token("alan@example.com"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for i := 0; i < 5; i++ {
		tc.Clock.Advance(time.Hour)
		assert.Zero(t, tc.sweep(t).Due)
	}
	assert.Len(t, tc.sentTo("alan@example.com"), 1)

	wf, ok := tc.Store.WorkflowExecution("wf-1")
	require.True(t, ok)
	assert.Equal(t, domain.WorkflowCancelled, wf.Status)

	var check domain.SuppressionResult
	resp, err = http.Get(tc.API.URL + "/api/suppression/check?email=alan@example.com")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&check))
	resp.Body.Close()
	assert.True(t, check.Suppressed)
	assert.Equal(t, domain.ReasonUnsubscribed, check.Reason)
}

// =============================================================================
// US-003: Hard bounce reported by SES stops the sequence
// =============================================================================

func TestUS003_HardBounceViaWebhook(t *testing.T) {
	tc := setupTestContext(t)
	tc.welcomeSeries(t, "lead_signup", nil, 0, 30)
	tc.post(t, "/api/events", map[string]any{
		"store_id": "academy", "trigger_type": "lead_signup", "email": "bounce@example.com",
	}, nil)
	require.Equal(t, 1, tc.sweep(t).Sent)

	msg, _ := json.Marshal(map[string]any{
		"notificationType": "Bounce",
		"bounce": map[string]any{
			"bounceType":        "Permanent",
			"bouncedRecipients": []map[string]string{{"emailAddress": "Bounce@Example.com"}},
		},
	})
	require.Equal(t, http.StatusOK, tc.post(t, "/webhooks/ses", map[string]any{
		"Type": "Notification", "Message": string(msg),
	}, nil))

	tc.Clock.Advance(time.Hour)
	assert.Zero(t, tc.sweep(t).Due)
	assert.Len(t, tc.sentTo("bounce@example.com"), 1)

	log := tc.Store.SendLog("bounce@example.com")
	require.Len(t, log, 1)
	assert.Equal(t, domain.SendLogBounced, log[0].Status)
}

// =============================================================================
// US-004: Duplicate purchase events enroll once, tag filter respected
// =============================================================================

func TestUS004_DuplicateEventsAndTriggerConfig(t *testing.T) {
	tc := setupTestContext(t)
	courseA := tc.welcomeSeries(t, "product_purchase", map[string]any{"productId": "course-a"}, 0)
	tc.welcomeSeries(t, "product_purchase", map[string]any{"productId": "course-b"}, 0)

	event := map[string]any{
		"store_id": "academy", "trigger_type": "product_purchase", "email": "buyer@example.com",
		"metadata": map[string]any{"productId": "course-a"},
	}
	for i := 0; i < 3; i++ {
		var res drip.TriggerResult
		require.Equal(t, http.StatusOK, tc.post(t, "/api/events", event, &res))
		assert.Equal(t, 1, res.Matched)
	}

	list, err := tc.Drip.GetEnrollmentsByEmail(tc.Ctx, "buyer@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, courseA, list[0].CampaignID)
	assert.Equal(t, "course-a", list[0].Metadata["productId"])

	detail, err := tc.Drip.GetCampaign(tc.Ctx, courseA)
	require.NoError(t, err)
	assert.Equal(t, 1, detail.TotalEnrolled)
}

// =============================================================================
// US-005: Stuck enrollments are recovered after a worker outage
// =============================================================================

func TestUS005_RecoveryAfterOutage(t *testing.T) {
	tc := setupTestContext(t)
	tc.welcomeSeries(t, "manual", nil, 0)
	for i := 0; i < 3; i++ {
		tc.post(t, "/api/events", map[string]any{
			"store_id": "academy", "trigger_type": "manual", "email": fmt.Sprintf("late%d@example.com", i),
		}, nil)
	}

	tc.Clock.Advance(6 * time.Hour)
	recovered := worker.NewStuckEnrollmentRecoverer(tc.Drip, nil, time.Minute).RunOnce(tc.Ctx)
	assert.Equal(t, 3, recovered)

	stats := tc.sweep(t)
	assert.Equal(t, 3, stats.Sent)
}

// =============================================================================
// CONCURRENCY: competing dispatchers never double-send
// =============================================================================

func TestConcurrencyStress(t *testing.T) {
	tc := setupTestContext(t)
	tc.welcomeSeries(t, "manual", nil, 0)

	const recipients = 40
	for i := 0; i < recipients; i++ {
		tc.post(t, "/api/events", map[string]any{
			"store_id": "academy", "trigger_type": "manual", "email": fmt.Sprintf("user%d@example.com", i),
		}, nil)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := tc.dispatcher(distlock.NewRedisLock(tc.Redis, "drip-dispatch", time.Minute))
			for j := 0; j < 3; j++ {
				_, err := d.RunOnce(tc.Ctx)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, tc.Sender.Sent(), recipients)
	seen := make(map[string]bool)
	for _, m := range tc.Sender.Sent() {
		assert.False(t, seen[m.Email], "duplicate send to %s", m.Email)
		seen[m.Email] = true
	}
}
