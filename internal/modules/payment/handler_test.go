package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

type settlerFunc func(ctx context.Context, providerOrderID, paymentID string) error

func (f settlerFunc) SettleByProviderOrder(ctx context.Context, providerOrderID, paymentID string) error {
	return f(ctx, providerOrderID, paymentID)
}

func signBody(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

const capturedEvent = `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_P1","status":"captured"}}}}`

func serveWebhook(settler Settler, body, signature string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	NewHandler(NewService(newMemRepo(), &fakeGateway{}, opts, nil), settler).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(body))
	req.Header.Set(SignatureHeader, signature)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestWebhookSettlesAuthenticEvent(t *testing.T) {
	var gotOrder, gotPayment string
	settler := settlerFunc(func(_ context.Context, providerOrderID, paymentID string) error {
		gotOrder, gotPayment = providerOrderID, paymentID
		return nil
	})

	rec := serveWebhook(settler, capturedEvent, signBody("whsec", capturedEvent))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "order_P1", gotOrder)
	assert.Equal(t, "pay_1", gotPayment)
}

func TestWebhookRejectsForgedSignature(t *testing.T) {
	called := false
	settler := settlerFunc(func(context.Context, string, string) error {
		called = true
		return nil
	})

	rec := serveWebhook(settler, capturedEvent, signBody("wrong", capturedEvent))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestWebhookUnknownOrderIsAcknowledged(t *testing.T) {
	settler := settlerFunc(func(context.Context, string, string) error { return ErrUnknownProviderOrder })
	rec := serveWebhook(settler, capturedEvent, signBody("whsec", capturedEvent))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	body := `{"event":"refund.created","payload":{}}`
	called := false
	settler := settlerFunc(func(context.Context, string, string) error {
		called = true
		return nil
	})
	rec := serveWebhook(settler, body, signBody("whsec", body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, called)
}
