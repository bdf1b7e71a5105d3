package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-wizard-api/internal/application/session"
	"quiz-wizard-api/internal/application/wizard"
	"quiz-wizard-api/internal/config"
	"quiz-wizard-api/internal/domain/entity"
	"quiz-wizard-api/internal/domain/service"
	"quiz-wizard-api/internal/interfaces/http/dto"
	"quiz-wizard-api/internal/interfaces/http/handler"
	"quiz-wizard-api/internal/interfaces/http/router"
	"quiz-wizard-api/internal/validator"
	"quiz-wizard-api/pkg/errors"
)

type stubClient struct {
	mu        sync.Mutex
	submitErr error
	quizID    string
}

func (s *stubClient) Submit(context.Context, entity.GenerationConfig) (*entity.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &entity.GenerationJob{ID: "job-7", Status: entity.JobStatusPending}, nil
}

func (s *stubClient) GetStatus(_ context.Context, jobID string) (*entity.GenerationJob, error) {
	return &entity.GenerationJob{ID: jobID, Status: entity.JobStatusProcessing}, nil
}

func (s *stubClient) Cancel(_ context.Context, jobID string) (*entity.GenerationJob, error) {
	return &entity.GenerationJob{ID: jobID, Status: entity.JobStatusCancelled}, nil
}

func (s *stubClient) FetchResultID(context.Context, string) (string, error) {
	return "", errors.New(errors.KindNotFound, "no result")
}

func (s *stubClient) CreateQuiz(context.Context, entity.QuizDraft) (string, error) {
	return s.quizID, nil
}

type stubWatcher struct {
	mu       sync.Mutex
	listener service.JobListener
	cancels  int
}

func (w *stubWatcher) Start(_ context.Context, _ string, l service.JobListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listener = l
}

func (w *stubWatcher) Cancel(context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancels++
}

func (w *stubWatcher) Stop(context.Context) {}

func (w *stubWatcher) State() service.WatchState { return service.WatchIdle }

func (w *stubWatcher) push(u service.JobUpdate) {
	w.mu.Lock()
	l := w.listener
	w.mu.Unlock()
	l(u)
}

type testServer struct {
	engine  *gin.Engine
	client  *stubClient
	watcher *stubWatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.SetupGin()

	ts := &testServer{
		client:  &stubClient{quizID: "quiz-manual"},
		watcher: &stubWatcher{},
	}
	registry := session.NewRegistry(func(id string) *wizard.Controller {
		return wizard.NewController(ts.client, ts.client, ts.watcher, wizard.WithSessionID(id))
	}, &config.WizardConfig{})

	engine := gin.New()
	h := handler.NewWizardHandler(registry, &config.BackendConfig{MaxUploadBytes: 1 << 20})
	router.RegisterV1Routes(engine.Group("/v1"), h)
	ts.engine = engine
	return ts
}

type envelope struct {
	Code    int              `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
	Error   *dto.ErrorDetail `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return ts.serve(t, req)
}

func (ts *testServer) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func decodeSession(t *testing.T, env envelope) dto.SessionResponse {
	t.Helper()
	var s dto.SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	w, env := ts.do(t, http.MethodPost, "/v1/wizard/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	s := decodeSession(t, env)
	require.NotEmpty(t, s.SessionID)
	assert.Equal(t, wizard.StepMethodSelection, s.Step.Name)
	return s.SessionID
}

func (ts *testServer) configureText(t *testing.T, sid, text string) {
	t.Helper()
	base := "/v1/wizard/sessions/" + sid

	w, _ := ts.do(t, http.MethodPost, base+"/method", map[string]string{"method": "FROM_TEXT"})
	require.Equal(t, http.StatusOK, w.Code)

	draft := entity.NewQuizDraft()
	draft.Title = "World capitals"
	w, _ = ts.do(t, http.MethodPut, base+"/draft", draft)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, http.MethodPut, base+"/config", map[string]any{
		"source_text":     text,
		"question_counts": map[string]int{"MCQ_SINGLE": 3},
	})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestWizardHandler_UnknownSession(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.do(t, http.MethodGet, "/v1/wizard/sessions/nope", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusNotFound, env.Code)
}

func TestWizardHandler_TextGenerationFlow(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.createSession(t)
	ts.configureText(t, sid, "Paris is the capital of France. Berlin is the capital of Germany.")

	w, env := ts.do(t, http.MethodGet, "/v1/wizard/sessions/"+sid+"/estimate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var est entity.TokenEstimate
	require.NoError(t, json.Unmarshal(env.Data, &est))
	assert.Positive(t, est.TotalEstimatedTokens)

	w, env = ts.do(t, http.MethodPost, "/v1/wizard/sessions/"+sid+"/submit", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	s := decodeSession(t, env)
	assert.Equal(t, wizard.StepGenerating, s.Step.Name)
	require.NotNil(t, s.Step.Job)
	assert.Equal(t, "job-7", s.Step.Job.ID)

	progress := 40
	ts.watcher.push(service.JobUpdate{
		State: service.WatchPolling,
		Job:   &entity.GenerationJob{ID: "job-7", Status: entity.JobStatusProcessing, Progress: &progress},
	})
	_, env = ts.do(t, http.MethodGet, "/v1/wizard/sessions/"+sid, nil)
	s = decodeSession(t, env)
	require.NotNil(t, s.Step.Job.Progress)
	assert.Equal(t, 40, *s.Step.Job.Progress)

	ts.watcher.push(service.JobUpdate{State: service.WatchSucceeded, ResourceID: "quiz-9"})
	_, env = ts.do(t, http.MethodGet, "/v1/wizard/sessions/"+sid, nil)
	s = decodeSession(t, env)
	assert.Equal(t, wizard.StepComplete, s.Step.Name)
	assert.Equal(t, "quiz-9", s.Step.QuizID)
	assert.Nil(t, s.Config, "draft is discarded once the quiz exists")
}

func TestWizardHandler_SubmitValidationFailure(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.createSession(t)
	ts.configureText(t, sid, "too short")

	w, env := ts.do(t, http.MethodPost, "/v1/wizard/sessions/"+sid+"/submit", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "text")

	_, env = ts.do(t, http.MethodGet, "/v1/wizard/sessions/"+sid, nil)
	s := decodeSession(t, env)
	assert.Equal(t, wizard.StepConfiguring, s.Step.Name)
	assert.Contains(t, s.Step.FieldErrors, "text")
}

func TestWizardHandler_SubmitInsufficientBalance(t *testing.T) {
	ts := newTestServer(t)
	required, available := int64(6), int64(0)
	ts.client.submitErr = errors.New(errors.KindInsufficientBalance, "Insufficient token balance").
		WithTokens(&required, &available)

	sid := ts.createSession(t)
	ts.configureText(t, sid, "Paris is the capital of France.")

	w, env := ts.do(t, http.MethodPost, "/v1/wizard/sessions/"+sid+"/submit", nil)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(errors.KindInsufficientBalance), env.Error.ErrorCode)
	require.NotNil(t, env.Error.RequiredTokens)
	require.NotNil(t, env.Error.AvailableTokens)
	assert.Equal(t, int64(6), *env.Error.RequiredTokens)
	assert.Equal(t, int64(0), *env.Error.AvailableTokens)
}

func TestWizardHandler_ManualFlow(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.createSession(t)
	base := "/v1/wizard/sessions/" + sid

	w, _ := ts.do(t, http.MethodPost, base+"/method", map[string]string{"method": "MANUAL"})
	require.Equal(t, http.StatusOK, w.Code)
	draft := entity.NewQuizDraft()
	draft.Title = "Team onboarding"
	w, _ = ts.do(t, http.MethodPut, base+"/draft", draft)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := ts.do(t, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	s := decodeSession(t, env)
	assert.Equal(t, wizard.StepAddingQuestions, s.Step.Name)
	assert.Equal(t, "quiz-manual", s.Step.QuizID)

	w, env = ts.do(t, http.MethodPost, base+"/finish", nil)
	require.Equal(t, http.StatusOK, w.Code)
	s = decodeSession(t, env)
	assert.Equal(t, wizard.StepComplete, s.Step.Name)
	assert.Equal(t, entity.CreationManual, s.Step.Method)
}

func TestWizardHandler_InvalidTransitions(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.createSession(t)
	base := "/v1/wizard/sessions/" + sid

	tests := []struct {
		name string
		path string
	}{
		{"back from method selection", base + "/back"},
		{"submit from method selection", base + "/submit"},
		{"cancel without a job", base + "/cancel"},
		{"finish without a quiz", base + "/finish"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := ts.do(t, http.MethodPost, tt.path, nil)
			assert.Equal(t, http.StatusConflict, w.Code)
		})
	}

	w, env := ts.do(t, http.MethodPost, base+"/method", map[string]string{"method": "BY_MAGIC"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "method")
}

func TestWizardHandler_CancelGeneration(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.createSession(t)
	ts.configureText(t, sid, "Paris is the capital of France.")

	w, _ := ts.do(t, http.MethodPost, "/v1/wizard/sessions/"+sid+"/submit", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w, env := ts.do(t, http.MethodPost, "/v1/wizard/sessions/"+sid+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSession(t, env)
	assert.Equal(t, wizard.StepMethodSelection, s.Step.Name)
	assert.Empty(t, s.Draft.Title)
	assert.Equal(t, 1, ts.watcher.cancels)
}

func TestWizardHandler_QuestionCountIsClamped(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.createSession(t)
	ts.configureText(t, sid, "Paris is the capital of France.")

	w, env := ts.do(t, http.MethodPut, "/v1/wizard/sessions/"+sid+"/config/questions/TRUE_FALSE", map[string]int{"count": 50})
	require.Equal(t, http.StatusOK, w.Code)
	var stored map[string]int
	require.NoError(t, json.Unmarshal(env.Data, &stored))
	assert.Equal(t, 10, stored["TRUE_FALSE"])

	w, _ = ts.do(t, http.MethodPut, "/v1/wizard/sessions/"+sid+"/config/questions/ESSAY", map[string]int{"count": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func uploadRequest(t *testing.T, path string, fields map[string]string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if content != nil {
		fw, err := mw.CreateFormFile("file", "notes.pdf")
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestWizardHandler_UploadDocument(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.createSession(t)
	base := "/v1/wizard/sessions/" + sid

	w, _ := ts.do(t, http.MethodPost, base+"/method", map[string]string{"method": "FROM_DOCUMENT"})
	require.Equal(t, http.StatusOK, w.Code)

	content := []byte(strings.Repeat("lorem ipsum ", 20))
	w, env := ts.serve(t, uploadRequest(t, base+"/document", map[string]string{
		"pages":  "3-4,1",
		"chunks": "0,2",
	}, content))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	s := decodeSession(t, env)
	require.NotNil(t, s.Config)
	require.NotNil(t, s.Config.Document)
	assert.Equal(t, "notes.pdf", s.Config.Document.FileName)
	assert.Equal(t, len(content), s.Config.Document.SizeBytes)
	assert.Equal(t, "1,3-4", s.Config.Document.Pages)
	assert.Equal(t, []int{0, 2}, s.Config.Document.ChunkIndices)
}

func TestWizardHandler_UploadDocumentRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.createSession(t)
	base := "/v1/wizard/sessions/" + sid
	w, _ := ts.do(t, http.MethodPost, base+"/method", map[string]string{"method": "FROM_DOCUMENT"})
	require.Equal(t, http.StatusOK, w.Code)

	tests := []struct {
		name    string
		fields  map[string]string
		content []byte
		field   string
	}{
		{"missing file", nil, nil, "file"},
		{"reversed page range", map[string]string{"pages": "5-2"}, []byte("data"), "pages"},
		{"negative chunk", map[string]string{"chunks": "-1"}, []byte("data"), "chunks"},
		{"oversized file", nil, bytes.Repeat([]byte("x"), 1<<20+1), "file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := ts.serve(t, uploadRequest(t, base+"/document", tt.fields, tt.content))
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			require.NotNil(t, env.Error)
			assert.Contains(t, env.Error.Fields, tt.field)
		})
	}
}

func TestWizardHandler_UploadDocumentWrongMethod(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.createSession(t)
	ts.configureText(t, sid, "Paris is the capital of France.")

	w, _ := ts.serve(t, uploadRequest(t, "/v1/wizard/sessions/"+sid+"/document", nil, []byte("data")))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestWizardHandler_DeleteSession(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.createSession(t)

	w, _ := ts.do(t, http.MethodDelete, "/v1/wizard/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/v1/wizard/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(t, http.MethodDelete, "/v1/wizard/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
