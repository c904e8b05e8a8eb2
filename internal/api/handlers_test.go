package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/mailing"
	"github.com/ignite/drip-engine/internal/repository/memory"
	"github.com/ignite/drip-engine/internal/service/drip"
	"github.com/ignite/drip-engine/internal/service/suppression"
)

type testEnv struct {
	store  *memory.Store
	drip   *drip.Service
	supp   *suppression.Service
	signer *mailing.UnsubscribeSigner
	srv    *httptest.Server
}

func setupTestServer(t *testing.T, sns SNSOptions) *testEnv {
	t.Helper()
	env := &testEnv{store: memory.New()}
	env.drip = drip.NewService(env.store)
	env.supp = suppression.NewService(env.store)
	env.signer = mailing.NewUnsubscribeSigner("test-secret", "https://app.example.com")
	s := NewServer(env.drip, env.supp, env.signer, nil, sns)
	env.srv = httptest.NewServer(s.Routes(nil))
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

// activeCampaign creates an active lead_signup campaign with one step via
// the API and returns its ID.
func (e *testEnv) activeCampaign(t *testing.T, cfg map[string]any) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/campaigns", map[string]any{
		"store_id": "store-1", "name": "Welcome", "trigger_type": "lead_signup", "trigger_config": cfg,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var c domain.Campaign
	require.NoError(t, json.Unmarshal(body, &c))

	resp, body = e.do(t, http.MethodPost, "/api/campaigns/"+c.ID+"/steps", map[string]any{
		"step_number": 1, "delay_minutes": 0, "subject": "Hi", "html_content": "<p>Hi</p>",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, _ = e.do(t, http.MethodPost, "/api/campaigns/"+c.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return c.ID
}

func TestCampaignLifecycle(t *testing.T) {
	env := setupTestServer(t, SNSOptions{})
	id := env.activeCampaign(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/campaigns/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail domain.CampaignDetail
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.True(t, detail.IsActive)
	assert.Equal(t, "Welcome", detail.Name)
	require.Len(t, detail.Steps, 1)

	resp, body = env.do(t, http.MethodGet, "/api/stores/store-1/campaigns", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"total":1`)

	stepID := detail.Steps[0].ID
	resp, _ = env.do(t, http.MethodPatch, "/api/steps/"+stepID, map[string]any{"delay_minutes": 90})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPatch, "/api/steps/"+stepID, map[string]any{"delay_minutes": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/campaigns/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/campaigns/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCampaignErrors(t *testing.T) {
	env := setupTestServer(t, SNSOptions{})
	id := env.activeCampaign(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"bad trigger", http.MethodPost, "/api/campaigns",
			map[string]any{"store_id": "s", "name": "x", "trigger_type": "birthday"}, http.StatusBadRequest},
		{"duplicate step", http.MethodPost, "/api/campaigns/" + id + "/steps",
			map[string]any{"step_number": 1, "subject": "Again"}, http.StatusConflict},
		{"step on missing campaign", http.MethodPost, "/api/campaigns/nope/steps",
			map[string]any{"step_number": 1, "subject": "x"}, http.StatusNotFound},
		{"toggle missing", http.MethodPost, "/api/campaigns/nope/toggle", nil, http.StatusNotFound},
		{"enrollments without email", http.MethodGet, "/api/enrollments", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))
		})
	}
}

func TestEnrollIsIdempotent(t *testing.T) {
	env := setupTestServer(t, SNSOptions{})
	id := env.activeCampaign(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/campaigns/"+id+"/enroll", map[string]any{"email": "Ada@Example.com", "name": "Ada"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var first enrollResponse
	require.NoError(t, json.Unmarshal(body, &first))
	assert.True(t, first.Enrolled)
	assert.NotEmpty(t, first.EnrollmentID)

	resp, body = env.do(t, http.MethodPost, "/api/campaigns/"+id+"/enroll", map[string]any{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"enrolled":false}`, string(body))

	resp, body = env.do(t, http.MethodGet, "/api/enrollments?email=ada@example.com", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"total":1`)

	resp, body = env.do(t, http.MethodPost, "/api/campaigns/"+id+"/unenroll", map[string]any{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"unenrolled":true}`, string(body))
}

func TestTriggerEvent(t *testing.T) {
	env := setupTestServer(t, SNSOptions{})
	env.activeCampaign(t, nil)
	env.activeCampaign(t, map[string]any{"tag": "vip"})

	resp, body := env.do(t, http.MethodPost, "/api/events", map[string]any{
		"store_id": "store-1", "trigger_type": "lead_signup", "email": "lead@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res drip.TriggerResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 1, res.Enrolled)

	resp, _ = env.do(t, http.MethodPost, "/api/events", map[string]any{"store_id": "store-1", "trigger_type": "lead_signup"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/events", map[string]any{
		"store_id": "store-1", "trigger_type": "nope", "email": "a@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSuppressionEndpoints(t *testing.T) {
	env := setupTestServer(t, SNSOptions{})

	resp, body := env.do(t, http.MethodPost, "/api/suppression/unsubscribe", map[string]any{"email": "gone@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodGet, "/api/suppression/check?email=gone@example.com", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"email":"gone@example.com","suppressed":true,"reason":"unsubscribed"}`, string(body))

	resp, body = env.do(t, http.MethodPost, "/api/suppression/check-batch", map[string]any{
		"emails": []string{"gone@example.com", "fine@example.com", "garbage"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var batch struct {
		Results []domain.SuppressionResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(body, &batch))
	require.Len(t, batch.Results, 3)
	assert.True(t, batch.Results[0].Suppressed)
	assert.False(t, batch.Results[1].Suppressed)
	assert.False(t, batch.Results[2].Suppressed)

	resp, body = env.do(t, http.MethodPost, "/api/suppression/bulk-bounced", map[string]any{
		"emails": []string{"gone@example.com", "bad@example.com"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bulk suppression.BulkResult
	require.NoError(t, json.Unmarshal(body, &bulk))
	assert.Equal(t, 1, bulk.NewlySuppressed)
	assert.Equal(t, 1, bulk.AlreadySuppressed)

	tooMany := make([]string, suppression.MaxBulkBatch+1)
	for i := range tooMany {
		tooMany[i] = "x@example.com"
	}
	resp, _ = env.do(t, http.MethodPost, "/api/suppression/bulk-bounced", map[string]any{"emails": tooMany})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnsubscribeLink(t *testing.T) {
	env := setupTestServer(t, SNSOptions{})
	id := env.activeCampaign(t, nil)
	resp, _ := env.do(t, http.MethodPost, "/api/campaigns/"+id+"/enroll", map[string]any{"email": "ada@example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	token := env.signer.Token("ada@example.com")
	resp, body := env.do(t, http.MethodGet, "/unsubscribe/"+token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "You have been unsubscribed")
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	list, err := env.drip.GetEnrollmentsByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.EnrollmentCancelled, list[0].Status)

	resp, body = env.do(t, http.MethodPost, "/unsubscribe/"+token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"unsubscribed":true,"already_unsubscribed":true}`, string(body))

	resp, _ = env.do(t, http.MethodGet, "/unsubscribe/"+token+"x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/unsubscribe/not-a-token", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func snsNotification(t *testing.T, topic string, msg any) map[string]any {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return map[string]any{"Type": "Notification", "TopicArn": topic, "Message": string(b)}
}

func TestSESWebhook_Bounces(t *testing.T) {
	env := setupTestServer(t, SNSOptions{})
	env.store.PutContact(domain.Contact{ID: "c1", StoreID: "store-1", Email: "soft@example.com", Status: domain.ContactSubscribed})

	resp, body := env.do(t, http.MethodPost, "/webhooks/ses", snsNotification(t, "", map[string]any{
		"notificationType": "Bounce",
		"bounce": map[string]any{
			"bounceType":        "Permanent",
			"bouncedRecipients": []map[string]string{{"emailAddress": "hard@example.com"}, {"emailAddress": "not-an-email"}},
		},
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"type":"Bounce","processed":1,"failed":1}`, string(body))

	res, err := env.supp.CheckSuppression(context.Background(), "hard@example.com")
	require.NoError(t, err)
	assert.True(t, res.Suppressed)
	assert.Equal(t, domain.ReasonBounced, res.Reason)

	resp, _ = env.do(t, http.MethodPost, "/webhooks/ses", snsNotification(t, "", map[string]any{
		"eventType": "Bounce",
		"bounce": map[string]any{
			"bounceType":        "Transient",
			"bouncedRecipients": []map[string]string{{"emailAddress": "soft@example.com"}},
		},
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res, err = env.supp.CheckSuppression(context.Background(), "soft@example.com")
	require.NoError(t, err)
	assert.False(t, res.Suppressed)
	assert.Equal(t, domain.ContactSoftBounced, env.store.Contacts("soft@example.com")[0].Status)
}

func TestSESWebhook_Complaint(t *testing.T) {
	env := setupTestServer(t, SNSOptions{})

	resp, _ := env.do(t, http.MethodPost, "/webhooks/ses", snsNotification(t, "", map[string]any{
		"notificationType": "Complaint",
		"complaint": map[string]any{
			"complainedRecipients": []map[string]string{{"emailAddress": "angry@example.com"}},
		},
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res, err := env.supp.CheckSuppression(context.Background(), "angry@example.com")
	require.NoError(t, err)
	assert.True(t, res.Suppressed)
}

type recordingDoer struct {
	mu   sync.Mutex
	urls []string
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.urls = append(d.urls, req.URL.String())
	d.mu.Unlock()
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("<ok/>"))}, nil
}

func TestSESWebhook_SubscriptionConfirmation(t *testing.T) {
	doer := &recordingDoer{}
	env := setupTestServer(t, SNSOptions{AutoConfirm: true, Client: doer})

	confirm := "https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription&Token=abc"
	resp, body := env.do(t, http.MethodPost, "/webhooks/ses", map[string]any{
		"Type": "SubscriptionConfirmation", "SubscribeURL": confirm,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"confirmed":true`)
	assert.Equal(t, []string{confirm}, doer.urls)

	resp, _ = env.do(t, http.MethodPost, "/webhooks/ses", map[string]any{
		"Type": "SubscriptionConfirmation", "SubscribeURL": "http://evil.example.com/",
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Len(t, doer.urls, 1)
}

func TestSESWebhook_TopicAllowlist(t *testing.T) {
	env := setupTestServer(t, SNSOptions{TopicARNs: []string{"arn:aws:sns:us-east-1:123:ses-events"}})

	msg := map[string]any{"notificationType": "Complaint"}
	resp, _ := env.do(t, http.MethodPost, "/webhooks/ses", snsNotification(t, "arn:aws:sns:us-east-1:999:other", msg))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/webhooks/ses", snsNotification(t, "arn:aws:sns:us-east-1:123:ses-events", msg))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/webhooks/ses", "not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth_NoDependencies(t *testing.T) {
	env := setupTestServer(t, SNSOptions{})
	resp, body := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hs HealthStatus
	require.NoError(t, json.Unmarshal(body, &hs))
	assert.Equal(t, "healthy", hs.Status)
	assert.Equal(t, notConfigured, hs.Checks["database"].Message)

	resp, _ = env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestHealth_Backlog(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)
	mock.ExpectPing()
	mock.ExpectQuery("FROM drip_enrollments").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	hc := NewHealthChecker(db, client)
	w := httptest.NewRecorder()
	hc.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var hs HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hs))
	assert.Equal(t, "degraded", hs.Status)
	assert.Equal(t, "up", hs.Checks["database"].Status)
	assert.Equal(t, "up", hs.Checks["redis"].Status)
	assert.Contains(t, hs.Checks["dispatch"].Message, "3 enrollments")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDetermineOverallStatus(t *testing.T) {
	assert.Equal(t, "unhealthy", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "down", Message: "ping failed"},
	}))
	assert.Equal(t, "degraded", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "up"}, "redis": {Status: "down", Message: "ping failed"},
	}))
	assert.Equal(t, "healthy", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "down", Message: notConfigured}, "redis": {Status: "up"},
	}))
}
