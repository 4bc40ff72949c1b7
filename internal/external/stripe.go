package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ammrshmbng/pro-learn/internal/config"
	"github.com/ammrshmbng/pro-learn/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// CustomerLinkStore provides the minimal data access StripeClient needs to
// persist the provider-side customer ID on the owning user. This avoids
// pulling in the full UserRepository interface.
type CustomerLinkStore interface {
	// UpdateStripeCustomerID sets the stripe_customer_id for the user.
	UpdateStripeCustomerID(ctx context.Context, userID string, customerID string) error
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey types.SecretString
	// Price IDs for the recurring plan intervals.
	MonthlyPriceID string
	YearlyPriceID  string
	BaseURL        string // Override for testing; defaults to stripeAPIBase
	Logger         *slog.Logger
}

// NewStripeClientConfig builds a StripeClientConfig from the billing config.
func NewStripeClientConfig(cfg config.BillingConfig, logger *slog.Logger) StripeClientConfig {
	return StripeClientConfig{
		SecretKey:      cfg.StripeSecretKey,
		MonthlyPriceID: cfg.MonthlyPriceID,
		YearlyPriceID:  cfg.YearlyPriceID,
		Logger:         logger,
	}
}

// StripeClient implements BillingService by making direct HTTP calls to the
// Stripe REST API through BaseClient. This routes all requests through the
// resilience infrastructure (circuit breaker, retries, error mapping) and
// makes testing with httptest straightforward.
type StripeClient struct {
	base   *BaseClient
	cfg    StripeClientConfig
	users  CustomerLinkStore
	logger *slog.Logger
}

// NewStripeClient creates a new StripeClient. The httpClient timeout should
// be around 20 seconds for Checkout API calls.
func NewStripeClient(httpClient *http.Client, users CustomerLinkStore, cfg StripeClientConfig) *StripeClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = stripeAPIBase
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		DefaultRetryPolicy(),
		"pro-learn/1.0",
	)

	return &StripeClient{
		base:   base,
		cfg:    cfg,
		users:  users,
		logger: logger,
	}
}

// stripeCustomer is the subset of the Stripe customer object we decode.
type stripeCustomer struct {
	ID string `json:"id"`
}

// stripeSearchResult is the envelope of a Stripe search API response.
type stripeSearchResult struct {
	Data []stripeCustomer `json:"data"`
}

// stripeCheckoutSession is the subset of the Checkout Session object we decode.
type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// stripeErrorBody is the error envelope Stripe returns on non-2xx responses.
type stripeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// EnsureCustomer retrieves or creates a Stripe customer for the user.
// Search-first to prevent duplicate customers:
//  1. Query the Stripe Search API for a metadata['user_id'] match.
//  2. If found, persist and return the existing customer ID.
//  3. Otherwise create a new customer tagged with user_id metadata.
//  4. Persist the customer ID on the user record.
func (s *StripeClient) EnsureCustomer(ctx context.Context, user *types.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	searchQuery := fmt.Sprintf("metadata['user_id']:'%s'", user.ID)
	params := url.Values{}
	params.Set("query", searchQuery)

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp, "EnsureCustomer.search")
	}

	var searchResult stripeSearchResult
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer search response",
			err,
		)
	}

	if len(searchResult.Data) > 0 {
		customerID := searchResult.Data[0].ID
		s.persistCustomerID(ctx, user.ID, customerID)
		return customerID, nil
	}

	createParams := url.Values{}
	createParams.Set("email", user.Email)
	createParams.Set("name", user.Name)
	createParams.Set("metadata[user_id]", user.ID)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.create", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	s.persistCustomerID(ctx, user.ID, customer.ID)
	return customer.ID, nil
}

// persistCustomerID best-effort writes the customer link back to the store.
// A failed write is logged, not fatal: the search-first logic recovers the
// link on the next checkout.
func (s *StripeClient) persistCustomerID(ctx context.Context, userID, customerID string) {
	if err := s.users.UpdateStripeCustomerID(ctx, userID, customerID); err != nil {
		s.logger.WarnContext(ctx, "failed to persist stripe_customer_id",
			"user_id", userID,
			"customer_id", customerID,
			"error", err,
		)
	}
}

// CreateCourseCheckoutSession generates a one-time payment Checkout Session
// for a course. The course ID is carried in session metadata and the user ID
// in client_reference_id so the completion webhook can credit the purchase.
func (s *StripeClient) CreateCourseCheckoutSession(
	ctx context.Context,
	user *types.User,
	course *types.Course,
	urls RedirectURLs,
) (string, string, error) {
	customerID, err := s.EnsureCustomer(ctx, user)
	if err != nil {
		return "", "", err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("mode", CheckoutModePayment)
	params.Set("client_reference_id", user.ID)
	params.Set("success_url", urls.Success)
	params.Set("cancel_url", urls.Cancel)
	params.Set("metadata[course_id]", course.ID)
	params.Set("line_items[0][quantity]", "1")
	params.Set("line_items[0][price_data][currency]", "usd")
	params.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", course.PriceCents))
	params.Set("line_items[0][price_data][product_data][name]", course.Title)

	return s.createCheckoutSession(ctx, params, "CreateCourseCheckoutSession")
}

// CreateSubscriptionCheckoutSession generates a recurring-plan Checkout
// Session for the given interval. Subscription state is NOT established by
// the resulting checkout.session.completed event; it is synchronized from
// the customer.subscription.* lifecycle events.
func (s *StripeClient) CreateSubscriptionCheckoutSession(
	ctx context.Context,
	user *types.User,
	interval types.PlanInterval,
	urls RedirectURLs,
) (string, string, error) {
	customerID, err := s.EnsureCustomer(ctx, user)
	if err != nil {
		return "", "", err
	}

	priceID := s.cfg.MonthlyPriceID
	if interval == types.IntervalYear {
		priceID = s.cfg.YearlyPriceID
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("mode", CheckoutModeSubscription)
	params.Set("client_reference_id", user.ID)
	params.Set("success_url", urls.Success)
	params.Set("cancel_url", urls.Cancel)
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

	return s.createCheckoutSession(ctx, params, "CreateSubscriptionCheckoutSession")
}

// createCheckoutSession posts to the Checkout Sessions API and decodes the
// session URL and ID.
func (s *StripeClient) createCheckoutSession(ctx context.Context, params url.Values, operation string) (string, string, error) {
	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapStripeError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, operation)
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return session.URL, session.ID, nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.cfg.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST to the Stripe API with a
// form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders applies the Stripe secret key as a bearer token.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.cfg.SecretKey.Unmask())
	req.Header.Set("Stripe-Version", "2025-03-31.basil")
}

// handleErrorResponse decodes a non-2xx Stripe response into an AppError
// without leaking the raw provider message to API clients.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var stripeErr stripeErrorBody
	_ = json.Unmarshal(body, &stripeErr)

	s.logger.Warn("stripe API error",
		"operation", operation,
		"status", resp.StatusCode,
		"stripe_type", stripeErr.Error.Type,
		"stripe_code", stripeErr.Error.Code,
	)

	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: payment provider rejected the request", operation),
		fmt.Errorf("stripe status %d: %s", resp.StatusCode, stripeErr.Error.Message),
	)
}

// wrapStripeError annotates transport-level failures with the operation name.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return types.NewAppError(appErr.Code, fmt.Sprintf("%s: %s", operation, appErr.Message), appErr.Err)
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe, fmt.Sprintf("%s failed", operation), err)
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature validation: HMAC-SHA256 over the exact raw payload bytes with
// the t=<timestamp>,v1=<signature> header scheme and timestamp tolerance,
// rejecting stale or tampered payloads.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header
// and signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return webhook.ValidatePayload(payload, header, secret)
}

// Compile-time interface checks.
var (
	_ WebhookVerifier = (*StripeVerifier)(nil)
	_ BillingService  = (*StripeClient)(nil)
)
