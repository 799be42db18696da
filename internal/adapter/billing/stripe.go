package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"fineas-core/internal/domain/entity"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	eventCheckoutCompleted   = "checkout.session.completed"
	eventSubscriptionDeleted = "customer.subscription.deleted"

	userKeyMetadata = "id_hash"
)

// StripeGateway verifies Stripe webhooks and drives customers, checkout
// sessions and subscriptions through the Stripe API.
type StripeGateway struct {
	api            *client.API
	webhookSecret  string
	priceID        string
	redirectDomain string
}

func NewStripeGateway(secretKey, webhookSecret, priceID, redirectDomain string) *StripeGateway {
	return newStripeGateway(secretKey, webhookSecret, priceID, redirectDomain, nil)
}

func newStripeGateway(secretKey, webhookSecret, priceID, redirectDomain string, backends *stripe.Backends) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{
		api:            api,
		webhookSecret:  webhookSecret,
		priceID:        priceID,
		redirectDomain: strings.TrimRight(redirectDomain, "/"),
	}
}

// eventObject is the subset of a checkout session or subscription we read.
type eventObject struct {
	Metadata map[string]string `json:"metadata"`
	Customer json.RawMessage   `json:"customer"`
}

// VerifyEvent checks the Stripe-Signature header against the raw payload
// before anything in it is trusted.
func (g *StripeGateway) VerifyEvent(payload []byte, signature string) (*entity.BillingEvent, error) {
	if err := webhook.ValidatePayload(payload, signature, g.webhookSecret); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrSignatureInvalid, err)
	}

	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrMalformedPayload, err)
	}
	out := &entity.BillingEvent{
		ID:          ev.ID,
		Type:        entity.BillingEventIgnored,
		ProviderRaw: string(ev.Type),
	}

	switch string(ev.Type) {
	case eventCheckoutCompleted:
		out.Type = entity.SubscriptionCompleted
	case eventSubscriptionDeleted:
		out.Type = entity.SubscriptionCanceled
	default:
		return out, nil
	}

	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", entity.ErrMalformedPayload, ev.ID)
	}
	var obj eventObject
	if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrMalformedPayload, err)
	}
	out.UserKey = obj.Metadata[userKeyMetadata]
	ref, err := customerID(obj.Customer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrMalformedPayload, err)
	}
	out.CustomerRef = ref
	return out, nil
}

// customerID accepts both the bare id and the expanded customer object.
func customerID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("customer field: %w", err)
	}
	return obj.ID, nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, userKey string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddMetadata(userKeyMetadata, userKey)

	cust, err := g.api.Customers.New(params)
	if err != nil {
		return "", stripeError(err)
	}
	return cust.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, customerRef, userKey string) (string, string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerRef),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(g.priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(g.redirectDomain + "?success=true&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(g.redirectDomain + "?canceled=true"),
	}
	params.Context = ctx
	params.AddMetadata(userKeyMetadata, userKey)

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", "", stripeError(err)
	}
	return sess.ID, sess.URL, nil
}

// CancelSubscriptions cancels every active subscription of the customer and
// returns how many were canceled.
func (g *StripeGateway) CancelSubscriptions(ctx context.Context, customerRef string) (int, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerRef),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx

	var ids []string
	it := g.api.Subscriptions.List(params)
	for it.Next() {
		ids = append(ids, it.Subscription().ID)
	}
	if err := it.Err(); err != nil {
		return 0, stripeError(err)
	}

	for i, id := range ids {
		cancel := &stripe.SubscriptionCancelParams{}
		cancel.Context = ctx
		if _, err := g.api.Subscriptions.Cancel(id, cancel); err != nil {
			log.Printf("[BILLING] Cancel stopped after %d of %d subscriptions", i, len(ids))
			return i, stripeError(err)
		}
	}
	return len(ids), nil
}

func stripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return entity.NewUpstreamError("stripe", se.HTTPStatusCode, err)
	}
	return entity.NewUpstreamError("stripe", 0, err)
}
