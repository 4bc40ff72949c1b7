package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ammrshmbng/pro-learn/internal/billing"
	"github.com/ammrshmbng/pro-learn/internal/external"
	"github.com/ammrshmbng/pro-learn/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

// mockWebhookVerifier implements external.WebhookVerifier for testing.
type mockWebhookVerifier struct {
	shouldFail bool
}

func (m *mockWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	if m.shouldFail {
		return errors.New("signature verification failed")
	}
	return nil
}

// mockIdentityResolver implements IdentityResolver with a fixed customer map.
type mockIdentityResolver struct {
	users map[string]*types.User
	err   error
}

func (m *mockIdentityResolver) GetByStripeCustomerID(ctx context.Context, customerID string) (*types.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	if u, ok := m.users[customerID]; ok {
		return u, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

// mockPurchaseRecorder implements PurchaseRecorder, simulating the unique
// payment-ID constraint.
type mockPurchaseRecorder struct {
	records []*types.Purchase
	err     error
}

func (m *mockPurchaseRecorder) Record(ctx context.Context, p *types.Purchase) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	for _, existing := range m.records {
		if existing.StripePaymentID == p.StripePaymentID {
			return false, nil
		}
	}
	m.records = append(m.records, p)
	return true, nil
}

// mockSubUpserter implements SubscriptionUpserter, keeping one row per user.
type mockSubUpserter struct {
	byUser map[string]*types.Subscription
	calls  int
	err    error
}

func (m *mockSubUpserter) Upsert(ctx context.Context, s *types.Subscription) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	if m.byUser == nil {
		m.byUser = make(map[string]*types.Subscription)
	}
	m.byUser[s.UserID] = s
	return nil
}

// fixedClock implements types.Clock for deterministic period defaults.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

// buildEvent creates a JSON-encoded webhook event body.
func buildEvent(eventType, eventID string, created int64, dataObject interface{}) []byte {
	objBytes, _ := json.Marshal(dataObject)
	event := map[string]interface{}{
		"id":      eventID,
		"type":    eventType,
		"created": created,
		"data": map[string]interface{}{
			"object": json.RawMessage(objBytes),
		},
	}
	b, _ := json.Marshal(event)
	return b
}

// buildCheckoutEvent creates a checkout.session.completed event.
func buildCheckoutEvent(sessionID, mode, customerID, courseID string, amount int64) []byte {
	obj := map[string]interface{}{
		"id":           sessionID,
		"mode":         mode,
		"customer":     customerID,
		"amount_total": amount,
		"metadata": map[string]string{
			"course_id": courseID,
		},
	}
	return buildEvent(external.EventCheckoutCompleted, "evt_checkout_1", time.Now().Unix(), obj)
}

// buildSubEvent creates a customer.subscription.updated event.
func buildSubEvent(subID, customerID, status, interval string, periodStart, periodEnd int64) []byte {
	obj := map[string]interface{}{
		"id":                   subID,
		"customer":             customerID,
		"status":               status,
		"cancel_at_period_end": false,
		"current_period_start": periodStart,
		"current_period_end":   periodEnd,
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{"plan": map[string]string{"interval": interval}},
			},
		},
	}
	return buildEvent(external.EventSubUpdated, "evt_sub_1", time.Now().Unix(), obj)
}

type webhookTestDeps struct {
	verifier  *mockWebhookVerifier
	users     *mockIdentityResolver
	purchases *mockPurchaseRecorder
	subs      *mockSubUpserter
	clock     fixedClock
	policy    billing.StatusPolicy
}

func newWebhookTestDeps() *webhookTestDeps {
	return &webhookTestDeps{
		verifier: &mockWebhookVerifier{},
		users: &mockIdentityResolver{users: map[string]*types.User{
			"cus_123": {ID: "user_1", Email: "a@example.com", StripeCustomerID: "cus_123"},
		}},
		purchases: &mockPurchaseRecorder{},
		subs:      &mockSubUpserter{},
		clock:     fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		policy:    billing.StatusPolicy{},
	}
}

func (d *webhookTestDeps) handler() *StripeWebhookHandler {
	return NewStripeWebhookHandler(
		d.verifier,
		d.users,
		d.purchases,
		d.subs,
		billing.NewPeriodDefaulter(d.clock),
		d.policy,
		"whsec_test_secret",
		nil,
	)
}

// doWebhookRequest performs an HTTP request against the handler.
func doWebhookRequest(handler *StripeWebhookHandler, body []byte, sigHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if sigHeader != "" {
		req.Header.Set("Stripe-Signature", sigHeader)
	}
	rr := httptest.NewRecorder()
	handler.Handle(rr, req)
	return rr
}

// ---------------------------------------------------------------------------
// Tests: Signature Verification
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_Handle_InvalidSignature(t *testing.T) {
	deps := newWebhookTestDeps()
	deps.verifier.shouldFail = true
	handler := deps.handler()

	body := buildCheckoutEvent("cs_1", "payment", "cus_123", "course_1", 4999)
	rr := doWebhookRequest(handler, body, "t=12345,v1=bad")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}

	// A rejected delivery must cause no writes of any kind.
	if len(deps.purchases.records) != 0 {
		t.Errorf("expected 0 purchase records after rejected signature, got %d", len(deps.purchases.records))
	}
	if deps.subs.calls != 0 {
		t.Errorf("expected 0 upsert calls after rejected signature, got %d", deps.subs.calls)
	}
}

func TestStripeWebhookHandler_Handle_MissingSignatureHeader(t *testing.T) {
	deps := newWebhookTestDeps()
	deps.verifier.shouldFail = true
	handler := deps.handler()

	body := buildCheckoutEvent("cs_1", "payment", "cus_123", "course_1", 4999)
	rr := doWebhookRequest(handler, body, "")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestStripeWebhookHandler_Handle_ValidSignature(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	body := buildCheckoutEvent("cs_1", "payment", "cus_123", "course_1", 4999)
	rr := doWebhookRequest(handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty response body, got %q", rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Tests: Purchase Recording
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_Handle_CheckoutCompleted(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	body := buildCheckoutEvent("cs_abc", "payment", "cus_123", "course_go", 4999)
	rr := doWebhookRequest(handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
	}

	if len(deps.purchases.records) != 1 {
		t.Fatalf("expected 1 purchase record, got %d", len(deps.purchases.records))
	}

	p := deps.purchases.records[0]
	if p.UserID != "user_1" {
		t.Errorf("expected user_id %q, got %q", "user_1", p.UserID)
	}
	if p.CourseID != "course_go" {
		t.Errorf("expected course_id %q, got %q", "course_go", p.CourseID)
	}
	if p.AmountCents != 4999 {
		t.Errorf("expected amount 4999, got %d", p.AmountCents)
	}
	if p.StripePaymentID != "cs_abc" {
		t.Errorf("expected stripe_payment_id %q, got %q", "cs_abc", p.StripePaymentID)
	}
}

func TestStripeWebhookHandler_Handle_CheckoutCompleted_ReplayIsNoOp(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	body := buildCheckoutEvent("cs_replay", "payment", "cus_123", "course_go", 4999)

	for i := 0; i < 3; i++ {
		rr := doWebhookRequest(handler, body, "t=12345,v1=valid")
		if rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected status %d, got %d", i, http.StatusOK, rr.Code)
		}
	}

	if len(deps.purchases.records) != 1 {
		t.Errorf("expected exactly 1 purchase after 3 deliveries, got %d", len(deps.purchases.records))
	}
}

func TestStripeWebhookHandler_Handle_CheckoutCompleted_SubscriptionModeSkipped(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	body := buildCheckoutEvent("cs_sub", "subscription", "cus_123", "", 999)
	rr := doWebhookRequest(handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d for subscription-mode checkout, got %d", http.StatusOK, rr.Code)
	}
	if len(deps.purchases.records) != 0 {
		t.Errorf("expected 0 purchase records for subscription-mode checkout, got %d", len(deps.purchases.records))
	}
}

func TestStripeWebhookHandler_Handle_CheckoutCompleted_UnknownCustomer(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	// Unknown customer on the purchase path is fatal for the delivery so the
	// provider retries once the identity linkage exists.
	body := buildCheckoutEvent("cs_1", "payment", "cus_unknown", "course_go", 4999)
	rr := doWebhookRequest(handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for unknown customer, got %d", http.StatusBadRequest, rr.Code)
	}
	if len(deps.purchases.records) != 0 {
		t.Errorf("expected 0 purchase records, got %d", len(deps.purchases.records))
	}
}

func TestStripeWebhookHandler_Handle_CheckoutCompleted_MissingCourseID(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	obj := map[string]interface{}{
		"id":           "cs_1",
		"mode":         "payment",
		"customer":     "cus_123",
		"amount_total": 4999,
		"metadata":     map[string]string{},
	}
	body := buildEvent(external.EventCheckoutCompleted, "evt_1", time.Now().Unix(), obj)
	rr := doWebhookRequest(handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for missing course_id, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestStripeWebhookHandler_Handle_CheckoutCompleted_StoreError(t *testing.T) {
	deps := newWebhookTestDeps()
	deps.purchases.err = types.NewAppError(types.ErrCodeInternalDB, "insert failed", errors.New("connection refused"))
	handler := deps.handler()

	body := buildCheckoutEvent("cs_1", "payment", "cus_123", "course_go", 4999)
	rr := doWebhookRequest(handler, body, "t=12345,v1=valid")

	// Store failures surface as non-2xx so the provider redelivers.
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d on store failure, got %d", http.StatusBadRequest, rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Tests: Subscription Upsert
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_Handle_SubscriptionUpdated(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Unix()
	body := buildSubEvent("sub_stripe_1", "cus_123", "active", "year", start, end)
	rr := doWebhookRequest(handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
	}

	sub := deps.subs.byUser["user_1"]
	if sub == nil {
		t.Fatal("expected a stored subscription for user_1")
	}
	if sub.Status != types.SubStatusActive {
		t.Errorf("expected status %q, got %q", types.SubStatusActive, sub.Status)
	}
	if sub.PlanInterval != types.IntervalYear {
		t.Errorf("expected interval %q, got %q", types.IntervalYear, sub.PlanInterval)
	}
	if !sub.CurrentPeriodStart.Equal(time.Unix(start, 0).UTC()) {
		t.Errorf("expected period start %v, got %v", time.Unix(start, 0).UTC(), sub.CurrentPeriodStart)
	}
	if !sub.CurrentPeriodEnd.Equal(time.Unix(end, 0).UTC()) {
		t.Errorf("expected period end %v, got %v", time.Unix(end, 0).UTC(), sub.CurrentPeriodEnd)
	}
}

func TestStripeWebhookHandler_Handle_SubscriptionUpdated_FullReplace(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	first := buildSubEvent("sub_stripe_1", "cus_123", "trialing", "month", 0, 0)
	second := buildSubEvent("sub_stripe_1", "cus_123", "active", "year", 0, 0)

	doWebhookRequest(handler, first, "t=1,v1=valid")
	doWebhookRequest(handler, second, "t=2,v1=valid")

	if deps.subs.calls != 2 {
		t.Fatalf("expected 2 upsert calls, got %d", deps.subs.calls)
	}

	// Every accepted event replaces the whole snapshot; the stored row must
	// reflect the last processed event in full.
	sub := deps.subs.byUser["user_1"]
	if sub.Status != types.SubStatusActive {
		t.Errorf("expected status %q after second event, got %q", types.SubStatusActive, sub.Status)
	}
	if sub.PlanInterval != types.IntervalYear {
		t.Errorf("expected interval %q after second event, got %q", types.IntervalYear, sub.PlanInterval)
	}
}

func TestStripeWebhookHandler_Handle_SubscriptionUpdated_StatusGate(t *testing.T) {
	accepted := map[string]bool{
		"trialing": true,
		"active":   true,
		"past_due": true,
	}
	statuses := []string{
		"trialing", "active", "past_due",
		"canceled", "incomplete", "incomplete_expired", "unpaid", "paused",
	}

	for _, status := range statuses {
		t.Run(status, func(t *testing.T) {
			deps := newWebhookTestDeps()
			handler := deps.handler()

			body := buildSubEvent("sub_1", "cus_123", status, "month", 0, 0)
			rr := doWebhookRequest(handler, body, "t=1,v1=valid")

			// Rejected statuses are still acknowledged with 200.
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
			}

			wantCalls := 0
			if accepted[status] {
				wantCalls = 1
			}
			if deps.subs.calls != wantCalls {
				t.Errorf("status %q: expected %d upsert calls, got %d", status, wantCalls, deps.subs.calls)
			}
		})
	}
}

func TestStripeWebhookHandler_Handle_SubscriptionUpdated_PersistCanceled(t *testing.T) {
	deps := newWebhookTestDeps()
	deps.policy = billing.StatusPolicy{PersistCanceled: true}
	handler := deps.handler()

	body := buildSubEvent("sub_1", "cus_123", "canceled", "month", 0, 0)
	rr := doWebhookRequest(handler, body, "t=1,v1=valid")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	sub := deps.subs.byUser["user_1"]
	if sub == nil {
		t.Fatal("expected canceled status to be persisted when the policy allows it")
	}
	if sub.Status != types.SubStatusCanceled {
		t.Errorf("expected status %q, got %q", types.SubStatusCanceled, sub.Status)
	}
}

func TestStripeWebhookHandler_Handle_SubscriptionUpdated_UnknownCustomerAbsorbed(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	// Unlike the purchase path, a missing identity on the subscription path
	// is absorbed: logged, acknowledged, no write.
	body := buildSubEvent("sub_1", "cus_unknown", "active", "month", 0, 0)
	rr := doWebhookRequest(handler, body, "t=1,v1=valid")

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d for unknown subscription customer, got %d", http.StatusOK, rr.Code)
	}
	if deps.subs.calls != 0 {
		t.Errorf("expected 0 upsert calls, got %d", deps.subs.calls)
	}
}

func TestStripeWebhookHandler_Handle_SubscriptionUpdated_PeriodDefaults(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	// Zero period bounds fall back to now / now+30d from the injected clock.
	body := buildSubEvent("sub_1", "cus_123", "active", "month", 0, 0)
	rr := doWebhookRequest(handler, body, "t=1,v1=valid")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	sub := deps.subs.byUser["user_1"]
	if !sub.CurrentPeriodStart.Equal(deps.clock.now) {
		t.Errorf("expected period start %v, got %v", deps.clock.now, sub.CurrentPeriodStart)
	}
	wantEnd := deps.clock.now.Add(30 * 24 * time.Hour)
	if !sub.CurrentPeriodEnd.Equal(wantEnd) {
		t.Errorf("expected period end %v, got %v", wantEnd, sub.CurrentPeriodEnd)
	}
}

func TestStripeWebhookHandler_Handle_SubscriptionUpdated_MissingItemsDefaultsMonthly(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	obj := map[string]interface{}{
		"id":       "sub_1",
		"customer": "cus_123",
		"status":   "active",
	}
	body := buildEvent(external.EventSubUpdated, "evt_1", time.Now().Unix(), obj)
	rr := doWebhookRequest(handler, body, "t=1,v1=valid")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if got := deps.subs.byUser["user_1"].PlanInterval; got != types.IntervalMonth {
		t.Errorf("expected default interval %q, got %q", types.IntervalMonth, got)
	}
}

func TestStripeWebhookHandler_Handle_SubscriptionUpdated_StoreError(t *testing.T) {
	deps := newWebhookTestDeps()
	deps.subs.err = types.NewAppError(types.ErrCodeInternalDB, "upsert failed", errors.New("connection refused"))
	handler := deps.handler()

	body := buildSubEvent("sub_1", "cus_123", "active", "month", 0, 0)
	rr := doWebhookRequest(handler, body, "t=1,v1=valid")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d on store failure, got %d", http.StatusBadRequest, rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Tests: Routing and Parsing
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_Handle_UnknownEventType(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	body := buildEvent("invoice.finalized", "evt_unknown", time.Now().Unix(), map[string]interface{}{})
	rr := doWebhookRequest(handler, body, "t=1,v1=valid")

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d for unhandled event type, got %d", http.StatusOK, rr.Code)
	}
	if len(deps.purchases.records) != 0 || deps.subs.calls != 0 {
		t.Error("expected no writes for unhandled event type")
	}
}

func TestStripeWebhookHandler_Handle_InvalidJSON(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	rr := doWebhookRequest(handler, []byte("not valid json"), "t=1,v1=valid")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for invalid JSON, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestStripeWebhookHandler_Handle_OversizedBody(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	oversized := bytes.Repeat([]byte{'a'}, maxWebhookBodySize+1024)
	rr := doWebhookRequest(handler, oversized, "t=1,v1=valid")

	if rr.Code == http.StatusOK {
		t.Error("expected non-200 status for oversized body, got 200")
	}
}

func TestStripeWebhookHandler_RegisterRoutes(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()

	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	body := buildCheckoutEvent("cs_route", "payment", "cus_123", "course_1", 100)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=valid")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d from registered route, got %d", http.StatusOK, rr.Code)
	}
}

func TestEventTimestamp(t *testing.T) {
	ts := int64(1772366400)
	body := buildEvent("test.event", "evt_1", ts, map[string]interface{}{})

	var event stripeWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	expected := time.Unix(ts, 0).UTC()
	if got := event.timestamp(); !got.Equal(expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

func TestNewStripeWebhookHandler_NilLogger(t *testing.T) {
	deps := newWebhookTestDeps()
	handler := deps.handler()
	if handler.logger == nil {
		t.Error("expected non-nil logger when nil is passed")
	}
	if handler.secret != "whsec_test_secret" {
		t.Errorf("expected secret %q, got %q", "whsec_test_secret", handler.secret)
	}
}
