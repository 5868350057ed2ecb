package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callrelay/internal/auth"
	"callrelay/internal/classifier"
	"callrelay/internal/config"
	"callrelay/internal/dedupe"
	"callrelay/internal/state"
	"callrelay/internal/upstream"
)

// capturedRequest is one request the fake upstream received.
type capturedRequest struct {
	Path     string
	JSONData string
	APIKey   string
}

type upstreamCapture struct {
	mu       sync.Mutex
	requests []capturedRequest
}

func (u *upstreamCapture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		u.mu.Lock()
		u.requests = append(u.requests, capturedRequest{
			Path:     r.URL.Path,
			JSONData: r.PostFormValue("jsonData"),
			APIKey:   r.Header.Get("X-FastHelp-API-Key"),
		})
		u.mu.Unlock()
		w.Write([]byte(`{"resultCode":"0","message":"OK"}`))
	}
}

func (u *upstreamCapture) all() []capturedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]capturedRequest, len(u.requests))
	copy(out, u.requests)
	return out
}

type testEnv struct {
	handler  http.Handler
	upstream *upstreamCapture
	cfg      *config.Config
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	capture := &upstreamCapture{}
	up := httptest.NewServer(capture.handler(t))
	t.Cleanup(up.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	passHash, err := auth.HashPassword("secret")
	require.NoError(t, err)

	cfg := &config.Config{
		API: config.APIConfig{Host: "127.0.0.1", Port: 8080},
		Upstream: config.UpstreamConfig{
			Env: "TEST", TestBaseURL: up.URL, TestAPIKey: "test-key",
			EnableSend: true, ConnectTimeout: 5, TotalTimeout: 10,
		},
		TTL: config.TTLConfig{ProcessingSeconds: 30, DedupeSeconds: 300, CallStateSeconds: 600},
		Classifier: config.ClassifierConfig{
			ErrorInfoPrecedence: "disposition_code",
			DedupeFailOpen:      true,
			EarlyAck:            false,
		},
		Auth: config.AuthConfig{
			JWTSecret: "test-secret", TokenHours: 1,
			AdminUser: "admin", AdminPassHash: passHash,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	states := state.NewStore(rdb, cfg.TTL.CallStateTTL())
	gate := dedupe.NewGate(rdb, cfg.TTL.ProcessingTTL(), cfg.TTL.DedupeTTL(), cfg.Classifier.DedupeFailOpen)
	cls := classifier.New(states, nil)
	relay := upstream.NewClient(cfg.Upstream)

	srv := NewServer(cfg, cls, gate, states, nil, relay, nil)
	return &testEnv{handler: srv.Handler(), upstream: capture, cfg: cfg}
}

func (e *testEnv) get(t *testing.T, path string, query url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path+"?"+query.Encode(), nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

func TestCallbackPhone1ConnectedRelaysCallEnd(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/callback", url.Values{
		"unique_id":         {"call-1"},
		"customerId":        {"42"},
		"crtObjectId":       {"obj-1"},
		"customerCRTId":     {"crt-1"},
		"userId":            {"staff-1"},
		"dialledPhone":      {"0311111111"},
		"callConnectedTime": {"2026/01/20 11:16:41 +0900"},
	})

	assert.Equal(t, 200, rec.Code)
	// The upstream body is echoed verbatim.
	assert.JSONEq(t, `{"resultCode":"0","message":"OK"}`, rec.Body.String())

	reqs := env.upstream.all()
	require.Len(t, reqs, 1)
	assert.True(t, strings.HasSuffix(reqs[0].Path, "createCallEnd.json"), reqs[0].Path)
	assert.Equal(t, "test-key", reqs[0].APIKey)

	var envlp map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(reqs[0].JSONData), &envlp))
	body := envlp["predictiveCallCreateCallEnd"]
	assert.Equal(t, "call-1", body["callId"])
	assert.Equal(t, "0311111111", body["targetTel"])
	assert.Equal(t, "staff-1", body["predictiveStaffId"])
	assert.Equal(t, "crt-1", body["subCtiHistoryId"])
	assert.Equal(t, "2026-01-20 11:16:41", body["callStartTime"])
}

func TestCallbackDuplicateIsDroppedSilently(t *testing.T) {
	env := newTestEnv(t, nil)

	query := url.Values{
		"unique_id":         {"call-1"},
		"customerId":        {"42"},
		"crtObjectId":       {"obj-1"},
		"customerCRTId":     {"crt-1"},
		"userId":            {"staff-1"},
		"dialledPhone":      {"0311111111"},
		"callConnectedTime": {"2026/01/20 11:16:41 +0900"},
	}

	first := env.get(t, "/callback", query)
	assert.JSONEq(t, `{"resultCode":"0","message":"OK"}`, first.Body.String())

	second := env.get(t, "/callback", query)
	assert.Equal(t, 200, second.Code)
	assert.Empty(t, second.Body.String())

	// Exactly one upstream call for the pair.
	assert.Len(t, env.upstream.all(), 1)
}

func TestCallbackAwaitThenPhone2NotAnswer(t *testing.T) {
	env := newTestEnv(t, nil)

	base := url.Values{
		"unique_id":     {"call-2"},
		"customerId":    {"42"},
		"crtObjectId":   {"obj-2"},
		"customerCRTId": {"crt-2"},
		"userId":        {"staff-1"},
		"phone1":        {"0311111111"},
		"phone2":        {"0322222222"},
	}

	// Phone1 fails: provisional, nothing goes upstream.
	q1 := url.Values{}
	for k, v := range base {
		q1[k] = v
	}
	q1.Set("systemDisposition", "NO_ANSWER")
	q1.Set("dialledPhone", "0311111111")

	rec1 := env.get(t, "/callback", q1)
	body1 := decodeBody(t, rec1)
	assert.Equal(t, "success", body1["result"])
	assert.Equal(t, "Stored phone1 status; waiting for phone2", body1["message"])
	assert.Empty(t, env.upstream.all())

	// Phone2 fails too: combined NotAnswer goes upstream.
	q2 := url.Values{}
	for k, v := range base {
		q2[k] = v
	}
	q2.Set("shareablePhonesDialIndex", "1")
	q2.Set("numAttempts", "2")
	q2.Set("systemDisposition", "BUSY")
	q2.Set("dialledPhone", "0311111111")
	q2.Set("cstmPhone", "0322222222")

	rec2 := env.get(t, "/callback", q2)
	assert.JSONEq(t, `{"resultCode":"0","message":"OK"}`, rec2.Body.String())

	reqs := env.upstream.all()
	require.Len(t, reqs, 1)
	assert.True(t, strings.HasSuffix(reqs[0].Path, "createNotAnswer.json"), reqs[0].Path)

	var envlp map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(reqs[0].JSONData), &envlp))
	body := envlp["predictiveCallCreateNotAnswer"]
	assert.Equal(t, "call-2", body["callId"])
	assert.Equal(t, "NO_ANSWER", body["errorInfo1"])
	assert.Equal(t, "BUSY", body["errorInfo2"])
}

func TestCallbackMissingCallIDFails(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/callback", url.Values{"userId": {"staff-1"}})
	body := decodeBody(t, rec)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "fail", body["result"])
	assert.Equal(t, "Missing required fields: unique_id", body["message"])
	assert.Empty(t, env.upstream.all())
}

func TestCallbackMissingConfigurationFails(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Upstream.TestAPIKey = ""
	})

	rec := env.get(t, "/callback", url.Values{"unique_id": {"call-1"}})
	body := decodeBody(t, rec)

	assert.Equal(t, "fail", body["result"])
	assert.Equal(t, "Server configuration missing", body["message"])
}

func TestCallbackEarlyAckStillProcesses(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Classifier.EarlyAck = true
	})

	rec := env.get(t, "/callback", url.Values{
		"unique_id":         {"call-1"},
		"customerId":        {"42"},
		"crtObjectId":       {"obj-1"},
		"customerCRTId":     {"crt-1"},
		"userId":            {"staff-1"},
		"dialledPhone":      {"0311111111"},
		"callConnectedTime": {"2026/01/20 11:16:41 +0900"},
	})

	// The dialer only ever sees the acknowledgement.
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Data Received", body["message"])

	// Classification and relay still ran to completion.
	require.Len(t, env.upstream.all(), 1)
}

func TestCallStartFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/callback/start", url.Values{
		"cs_unique_id": {"call-7"},
		"userId":       {"staff-1"},
		"phone":        {"0311111111"},
	})

	assert.JSONEq(t, `{"resultCode":"0","message":"OK"}`, rec.Body.String())

	reqs := env.upstream.all()
	require.Len(t, reqs, 1)
	assert.True(t, strings.HasSuffix(reqs[0].Path, "createCallStart.json"), reqs[0].Path)

	var envlp map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(reqs[0].JSONData), &envlp))
	body := envlp["predictiveCallCreateCallStart"]
	assert.Equal(t, "call-7", body["callId"])
	assert.Equal(t, "staff-1", body["predictiveStaffId"])
	assert.Equal(t, "0311111111", body["targetTel"])
}

func TestCallStartMissingFields(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/callback/start", url.Values{"userId": {"staff-1"}, "phone": {"0311111111"}})
	body := decodeBody(t, rec)
	assert.Equal(t, "fail", body["result"])
	assert.Equal(t, "Missing required fields: callId or unique_id or crm_push_generated_time", body["message"])

	rec = env.get(t, "/callback/start", url.Values{"callId": {"call-7"}, "phone": {"0311111111"}})
	body = decodeBody(t, rec)
	assert.Equal(t, "Missing required fields: userId", body["message"])
}

func TestRelayPassThroughForwardsVerbatim(t *testing.T) {
	env := newTestEnv(t, nil)

	jsonData := `{"predictiveCallCreateNotAnswer":{"callId":"call-1","callTime":"2026-01-20 11:05:00","errorInfo1":"BUSY","extra":"kept"}}`
	form := url.Values{"jsonData": {jsonData}}

	req := httptest.NewRequest("POST", "/relay/notanswer", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.JSONEq(t, `{"resultCode":"0","message":"OK"}`, rec.Body.String())

	reqs := env.upstream.all()
	require.Len(t, reqs, 1)
	// Unknown fields survive: the payload is not rebuilt.
	assert.JSONEq(t, jsonData, reqs[0].JSONData)
}

func TestRelayPassThroughValidatesShape(t *testing.T) {
	env := newTestEnv(t, nil)

	form := url.Values{"jsonData": {`{"predictiveCallCreateNotAnswer":{"callId":"call-1"}}`}}
	req := httptest.NewRequest("POST", "/relay/notanswer", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	body := decodeBody(t, rec)
	assert.Equal(t, "fail", body["result"])
	assert.Equal(t, "Missing required fields: callTime, errorInfo1", body["message"])
	assert.Empty(t, env.upstream.all())
}

func TestRelayPassThroughAcceptsRawBody(t *testing.T) {
	env := newTestEnv(t, nil)

	jsonData := `{"predictiveCallCreateCallStart":{"callId":"call-1","predictiveStaffId":"staff-1","targetTel":"0311111111"}}`
	req := httptest.NewRequest("POST", "/relay/callstart", bytes.NewReader([]byte(jsonData)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.JSONEq(t, `{"resultCode":"0","message":"OK"}`, rec.Body.String())
	require.Len(t, env.upstream.all(), 1)
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/api/v1/state", url.Values{"callId": {"call-1"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginAndStateInspection(t *testing.T) {
	env := newTestEnv(t, nil)

	// Wrong password is refused.
	badLogin := httptest.NewRequest("POST", "/api/v1/login",
		strings.NewReader(`{"username":"admin","password":"wrong"}`))
	badRec := httptest.NewRecorder()
	env.handler.ServeHTTP(badRec, badLogin)
	assert.Equal(t, http.StatusUnauthorized, badRec.Code)

	login := httptest.NewRequest("POST", "/api/v1/login",
		strings.NewReader(`{"username":"admin","password":"secret"}`))
	loginRec := httptest.NewRecorder()
	env.handler.ServeHTTP(loginRec, login)
	require.Equal(t, http.StatusOK, loginRec.Code)

	var loginBody map[string]string
	require.NoError(t, json.Unmarshal(loginRec.Body.Bytes(), &loginBody))
	token := loginBody["token"]
	require.NotEmpty(t, token)

	req := httptest.NewRequest("GET", "/api/v1/state?callId=call-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["found"])
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/health", url.Values{})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "TEST", body["env"])
	assert.Equal(t, true, body["send"])
	assert.Equal(t, "ok", body["redis"])
}
