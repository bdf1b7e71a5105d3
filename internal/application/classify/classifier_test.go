package classify_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-wizard-api/internal/application/classify"
	apperrors "quiz-wizard-api/pkg/errors"
)

type statusErr struct {
	code int
	body string
}

func (e *statusErr) Error() string        { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) StatusCode() int      { return e.code }
func (e *statusErr) ResponseBody() []byte { return []byte(e.body) }

func TestClassify_InsufficientBalanceWithCounts(t *testing.T) {
	c := classify.New()
	ce := c.Classify(&statusErr{
		code: 409,
		body: `{"title":"Insufficient tokens","detail":"required=6, available=0","status":409}`,
	})

	require.NotNil(t, ce)
	assert.Equal(t, apperrors.KindInsufficientBalance, ce.Kind)
	require.NotNil(t, ce.RequiredTokens)
	require.NotNil(t, ce.AvailableTokens)
	assert.EqualValues(t, 6, *ce.RequiredTokens)
	assert.EqualValues(t, 0, *ce.AvailableTokens)
	assert.Equal(t, "Insufficient tokens", ce.Message)
}

func TestPayload_Headline(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"message":"Balance too low","title":"Conflict"}`, "Balance too low"},
		{`{"title":"Insufficient Balance","detail":"required=6, available=0"}`, "Insufficient Balance"},
		{`{"detail":"required=6"}`, "required=6"},
		{`plain text`, "plain text"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify.ParsePayload([]byte(tt.body)).Headline(), tt.body)
	}
}

func TestClassify_BalanceWithoutCounts(t *testing.T) {
	ce := classify.New().Classify(&statusErr{code: 409, body: `{"message":"Balance too low"}`})

	assert.Equal(t, apperrors.KindInsufficientBalance, ce.Kind)
	assert.Nil(t, ce.RequiredTokens)
	assert.Nil(t, ce.AvailableTokens)
	assert.Equal(t, "Balance too low", ce.Message)
}

func TestClassify_MalformedCountsMeanNoEnrichment(t *testing.T) {
	ce := classify.New().Classify(&statusErr{
		code: 409,
		body: `{"title":"Insufficient balance","detail":"required=99999999999999999999999, available=abc"}`,
	})

	assert.Equal(t, apperrors.KindInsufficientBalance, ce.Kind)
	assert.Nil(t, ce.RequiredTokens)
	assert.Nil(t, ce.AvailableTokens)
}

func TestClassify_UnmatchedConflictKeepsServerMessage(t *testing.T) {
	ce := classify.New().Classify(&statusErr{code: 409, body: `{"message":"Quiz title already used"}`})

	assert.Equal(t, apperrors.KindUnknown, ce.Kind)
	assert.Equal(t, "Quiz title already used", ce.Message)
}

func TestClassify_NotFoundIgnoresMessage(t *testing.T) {
	for _, body := range []string{
		`{"message":"insufficient balance"}`,
		`{"title":"Server exploded","detail":"internal"}`,
		`<html>nope</html>`,
		``,
	} {
		ce := classify.New().Classify(&statusErr{code: 404, body: body})
		assert.Equal(t, apperrors.KindNotFound, ce.Kind, "body %q", body)
	}
}

func TestClassify_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		kind    apperrors.ErrorKind
		message string
	}{
		{"bad request", 400, `{"message":"text too short"}`, apperrors.KindValidation, "Invalid request: text too short"},
		{"unprocessable", 422, `{"title":"Bad","detail":"maxChunkSize out of range"}`, apperrors.KindValidation, "Invalid request: maxChunkSize out of range"},
		{"unauthorized", 401, `{"message":"token expired"}`, apperrors.KindAuth, "token expired"},
		{"forbidden", 403, ``, apperrors.KindAuth, "Forbidden"},
		{"server", 503, `upstream unavailable`, apperrors.KindServer, "upstream unavailable"},
		{"teapot", 418, `{"message":"short and stout"}`, apperrors.KindUnknown, "short and stout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := classify.New().Classify(&statusErr{code: tt.code, body: tt.body})
			assert.Equal(t, tt.kind, ce.Kind)
			assert.Equal(t, tt.message, ce.Message)
		})
	}
}

func TestClassify_NonJSONAndOddPayloadsDoNotPanic(t *testing.T) {
	bodies := []string{`{`, `[]`, `null`, `{"message":42,"title":["x"]}`, "\x00\xff"}
	for _, body := range bodies {
		assert.NotPanics(t, func() {
			ce := classify.New().Classify(&statusErr{code: 409, body: body})
			require.NotNil(t, ce)
		})
	}
}

func TestClassify_TransportErrors(t *testing.T) {
	c := classify.New()

	assert.Nil(t, c.Classify(nil))
	assert.Equal(t, apperrors.KindServer, c.Classify(context.DeadlineExceeded).Kind)
	assert.Equal(t, apperrors.KindUnknown, c.Classify(context.Canceled).Kind)
	assert.Equal(t, apperrors.KindServer, c.Classify(&net.OpError{Op: "dial", Err: errors.New("refused")}).Kind)

	ce := c.Classify(errors.New("something odd"))
	assert.Equal(t, apperrors.KindUnknown, ce.Kind)
	assert.Equal(t, "something odd", ce.Message)
}

func TestClassify_AlreadyClassifiedPassesThrough(t *testing.T) {
	orig := apperrors.New(apperrors.KindAuth, "no session")
	assert.Same(t, orig, classify.New().Classify(fmt.Errorf("wrapped: %w", orig)))
}

type codeMatcher struct{}

func (codeMatcher) Match(p classify.Payload) bool { return p.Title == "BALANCE_EXHAUSTED" }
func (codeMatcher) Extract(classify.Payload) (*int64, *int64) {
	return nil, nil
}

func TestClassify_CustomBalanceMatcher(t *testing.T) {
	c := classify.New(classify.WithBalanceMatcher(codeMatcher{}))

	assert.Equal(t, apperrors.KindInsufficientBalance,
		c.Classify(&statusErr{code: 409, body: `{"title":"BALANCE_EXHAUSTED"}`}).Kind)
	assert.Equal(t, apperrors.KindUnknown,
		c.Classify(&statusErr{code: 409, body: `{"title":"insufficient tokens"}`}).Kind)
}
