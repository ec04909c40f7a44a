package paymentwebhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type ServiceMock struct{ mock.Mock }

func (m *ServiceMock) ProcessWebhookEvent(ctx context.Context, externalID, gatewayStatus string) error {
	return m.Called(ctx, externalID, gatewayStatus).Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

const testSecret = "test-secret"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func doRequest(h *Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Api-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_ValidSignatureProcessed(t *testing.T) {
	svc := new(ServiceMock)
	h := New(newNoopLogger(), svc, testSecret)

	body := []byte(`{"event":"payment.succeeded","object":{"id":"yk-1","status":"succeeded"}}`)
	svc.On("ProcessWebhookEvent", mock.Anything, "yk-1", "succeeded").Return(nil).Once()

	rec := doRequest(h, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestWebhook_MissingSignatureRejected(t *testing.T) {
	svc := new(ServiceMock)
	h := New(newNoopLogger(), svc, testSecret)

	body := []byte(`{"event":"payment.succeeded","object":{"id":"yk-1","status":"succeeded"}}`)
	rec := doRequest(h, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "ProcessWebhookEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhook_WrongSignatureRejected(t *testing.T) {
	svc := new(ServiceMock)
	h := New(newNoopLogger(), svc, testSecret)

	body := []byte(`{"event":"payment.succeeded","object":{"id":"yk-1","status":"succeeded"}}`)
	rec := doRequest(h, body, "bm90LXRoZS1zaWduYXR1cmU=")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "ProcessWebhookEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhook_UnknownEventIgnored(t *testing.T) {
	svc := new(ServiceMock)
	h := New(newNoopLogger(), svc, testSecret)

	body := []byte(`{"event":"payment.refunded","object":{"id":"yk-1","status":"refunded"}}`)
	rec := doRequest(h, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertNotCalled(t, "ProcessWebhookEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhook_InvalidJSONRejected(t *testing.T) {
	svc := new(ServiceMock)
	h := New(newNoopLogger(), svc, testSecret)

	body := []byte(`{not json`)
	rec := doRequest(h, body, sign(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_ServiceErrorReturns500(t *testing.T) {
	svc := new(ServiceMock)
	h := New(newNoopLogger(), svc, testSecret)

	body := []byte(`{"event":"payment.canceled","object":{"id":"yk-2","status":"canceled"}}`)
	svc.On("ProcessWebhookEvent", mock.Anything, "yk-2", "canceled").Return(assert.AnError).Once()

	rec := doRequest(h, body, sign(body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
