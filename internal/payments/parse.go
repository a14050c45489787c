package payments

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/marketplace-payments/internal/webhooks"
)

// ErrMalformedPayload means the verified body could not be understood.
var ErrMalformedPayload = errors.New("payments: malformed webhook payload")

func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// flattenMetadata converts free-form provider metadata into strings. Nested
// objects are kept as compact JSON.
func flattenMetadata(raw map[string]any) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = fmt.Sprintf("%t", val)
		default:
			if b, err := json.Marshal(val); err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}

type mayaMoney struct {
	Value    any    `json:"value"`
	Currency string `json:"currency"`
}

type mayaPayload struct {
	ID                     string     `json:"id"`
	Status                 string     `json:"status"`
	PaymentStatus          string     `json:"paymentStatus"`
	Amount                 any        `json:"amount"`
	Currency               string     `json:"currency"`
	TotalAmount            *mayaMoney `json:"totalAmount"`
	RequestReferenceNumber string     `json:"requestReferenceNumber"`
	PaymentScheme          string     `json:"paymentScheme"`
	FundSource             struct {
		Type string `json:"type"`
	} `json:"fundSource"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"createdAt"`
}

// ParseMayaEvent builds an Event from a Maya checkout/payment notification.
// Maya reports the payment's new status in the body; that status is the event type.
func ParseMayaEvent(body []byte, receivedAt time.Time) (webhooks.Event, error) {
	var p mayaPayload
	if err := decodeJSON(body, &p); err != nil {
		return webhooks.Event{}, err
	}
	eventType := strings.TrimSpace(p.Status)
	if eventType == "" {
		eventType = strings.TrimSpace(p.PaymentStatus)
	}
	if strings.TrimSpace(p.ID) == "" || eventType == "" {
		return webhooks.Event{}, fmt.Errorf("%w: maya payload needs id and status", ErrMalformedPayload)
	}

	amountRaw, currency := p.Amount, p.Currency
	if amountRaw == nil && p.TotalAmount != nil {
		amountRaw, currency = p.TotalAmount.Value, p.TotalAmount.Currency
	}
	if currency == "" && p.TotalAmount != nil {
		currency = p.TotalAmount.Currency
	}
	cents, err := webhooks.AmountToCents(amountRaw)
	if err != nil {
		return webhooks.Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	metadata := flattenMetadata(p.Metadata)
	raw := p.RequestReferenceNumber
	if c := strings.TrimSpace(metadata["correlation"]); strings.HasPrefix(c, "{") {
		raw = c
	}
	corr, _ := webhooks.ParseCorrelation(raw, metadata)

	method := p.PaymentScheme
	if method == "" {
		method = p.FundSource.Type
	}

	return webhooks.Event{
		Provider:      webhooks.ProviderMaya,
		EventType:     webhooks.NormalizeEventType(eventType),
		ResourceID:    strings.TrimSpace(p.ID),
		AmountCents:   cents,
		Currency:      strings.ToUpper(currency),
		Metadata:      metadata,
		Correlation:   corr,
		PaymentMethod: method,
		ReceivedAt:    receivedAt.UTC(),
		Raw:           json.RawMessage(body),
	}, nil
}

type paypalAmount struct {
	Value        any    `json:"value"`
	CurrencyCode string `json:"currency_code"`
	Total        any    `json:"total"`
	Currency     string `json:"currency"`
}

func (a paypalAmount) cents() (int64, string, error) {
	value, currency := a.Value, a.CurrencyCode
	if value == nil {
		value, currency = a.Total, a.Currency
	}
	cents, err := webhooks.AmountToCents(value)
	return cents, strings.ToUpper(currency), err
}

type paypalResource struct {
	ID                 string        `json:"id"`
	Status             string        `json:"status"`
	State              string        `json:"state"`
	CustomID           string        `json:"custom_id"`
	Custom             string        `json:"custom"`
	PlanID             string        `json:"plan_id"`
	BillingAgreementID string        `json:"billing_agreement_id"`
	Amount             *paypalAmount `json:"amount"`
	PurchaseUnits      []struct {
		CustomID string        `json:"custom_id"`
		Amount   *paypalAmount `json:"amount"`
	} `json:"purchase_units"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	PaymentSource map[string]any `json:"payment_source"`
}

type paypalPayload struct {
	ID           string         `json:"id"`
	EventType    string         `json:"event_type"`
	ResourceType string         `json:"resource_type"`
	CreateTime   string         `json:"create_time"`
	Resource     paypalResource `json:"resource"`
}

// ParsePayPalEvent builds an Event from a PayPal webhook notification.
func ParsePayPalEvent(body []byte, receivedAt time.Time) (webhooks.Event, error) {
	var p paypalPayload
	if err := decodeJSON(body, &p); err != nil {
		return webhooks.Event{}, err
	}
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.EventType) == "" {
		return webhooks.Event{}, fmt.Errorf("%w: paypal payload needs id and event_type", ErrMalformedPayload)
	}
	eventType := webhooks.NormalizeEventType(p.EventType)
	res := p.Resource

	var (
		cents    int64
		currency string
		err      error
	)
	switch {
	case res.Amount != nil:
		cents, currency, err = res.Amount.cents()
	case len(res.PurchaseUnits) > 0 && res.PurchaseUnits[0].Amount != nil:
		cents, currency, err = res.PurchaseUnits[0].Amount.cents()
	}
	if err != nil {
		return webhooks.Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	raw := firstNonEmpty(res.CustomID, res.Custom)
	if raw == "" && len(res.PurchaseUnits) > 0 {
		raw = res.PurchaseUnits[0].CustomID
	}

	externalSub := ""
	if strings.HasPrefix(eventType, "BILLING.SUBSCRIPTION.") {
		externalSub = res.ID
	} else if res.BillingAgreementID != "" {
		externalSub = res.BillingAgreementID
	}

	metadata := map[string]string{}
	if res.PlanID != "" {
		metadata["paypal_plan_id"] = res.PlanID
	}
	if id := res.SupplementaryData.RelatedIDs.OrderID; id != "" {
		metadata["order_id"] = id
	}
	if externalSub != "" {
		metadata["subscription_id"] = externalSub
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	corr, _ := webhooks.ParseCorrelation(raw, nil)

	method := ""
	for k := range res.PaymentSource {
		method = k
		break
	}
	if method == "" {
		method = "paypal"
	}

	return webhooks.Event{
		Provider:               webhooks.ProviderPayPal,
		EventID:                strings.TrimSpace(p.ID),
		EventType:              eventType,
		ResourceID:             strings.TrimSpace(res.ID),
		ExternalSubscriptionID: externalSub,
		AmountCents:            cents,
		Currency:               currency,
		Metadata:               metadata,
		Correlation:            corr,
		PaymentMethod:          method,
		ReceivedAt:             receivedAt.UTC(),
		Raw:                    json.RawMessage(body),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
