package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const adyenCheckoutVersion = "v71"

// AdyenAdapter creates Adyen Checkout sessions over the Checkout API.
type AdyenAdapter struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAdyenAdapter creates a new Adyen adapter.
func NewAdyenAdapter(logger *zap.Logger) *AdyenAdapter {
	return &AdyenAdapter{
		httpClient: &http.Client{Timeout: 12 * time.Second},
		logger:     logger,
	}
}

// Provider returns the provider id.
func (a *AdyenAdapter) Provider() Provider {
	return Adyen
}

type adyenSessionRequest struct {
	MerchantAccount string      `json:"merchantAccount"`
	Reference       string      `json:"reference"`
	ReturnURL       string      `json:"returnUrl"`
	Channel         string      `json:"channel"`
	Amount          adyenAmount `json:"amount"`
}

type adyenAmount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

type adyenSessionResponse struct {
	ID          string `json:"id"`
	SessionData string `json:"sessionData"`
}

// CreateSession creates an Adyen Checkout session.
func (a *AdyenAdapter) CreateSession(ctx context.Context, cmd CreateSessionCommand) (*SessionResult, error) {
	apiKey := cmd.Config["apiKey"]
	merchantAccount := cmd.Config["merchantAccount"]
	clientKey := cmd.Config["clientKey"]
	environment := cmd.Config["environment"]
	if apiKey == "" || merchantAccount == "" || clientKey == "" {
		return nil, NewError(Adyen, ErrValidation, "adyen is not configured", nil)
	}

	body := adyenSessionRequest{
		MerchantAccount: merchantAccount,
		Reference:       cmd.PaymentIntentID.String(),
		ReturnURL:       cmd.ReturnURL,
		Channel:         "Web",
		Amount: adyenAmount{
			Value:    cmd.AmountMinor,
			Currency: strings.ToUpper(cmd.Currency),
		},
	}

	headers := map[string]string{"X-API-Key": apiKey}
	if cmd.IdempotencyKey != "" {
		headers["Idempotency-Key"] = "po:" + cmd.MerchantID.String() + ":" + cmd.IdempotencyKey
	}

	var resp adyenSessionResponse
	if err := a.post(ctx, environment, "/sessions", headers, body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.SessionData == "" {
		return nil, NewError(Adyen, ErrUnknown, "adyen session response invalid", nil)
	}

	return &SessionResult{
		ProviderRef: resp.ID,
		CheckoutConfig: map[string]any{
			"type":        string(Adyen),
			"clientKey":   clientKey,
			"environment": environment,
			"sessionId":   resp.ID,
			"sessionData": resp.SessionData,
		},
	}, nil
}

// Refund refunds an Adyen payment by its PSP reference. A session id is
// not refundable; the PSP reference arrives with the AUTHORISATION webhook.
func (a *AdyenAdapter) Refund(ctx context.Context, cmd RefundCommand) (string, error) {
	apiKey := cmd.Config["apiKey"]
	merchantAccount := cmd.Config["merchantAccount"]
	if apiKey == "" || merchantAccount == "" {
		return "", NewError(Adyen, ErrValidation, "adyen is not configured", nil)
	}
	if cmd.ProviderRef == "" || strings.HasPrefix(cmd.ProviderRef, "CS") {
		return "", NewError(Adyen, ErrValidation, "adyen refund requires PSP reference (wait for webhook)", nil)
	}

	body := map[string]any{
		"merchantAccount": merchantAccount,
		"reference":       "refund-" + cmd.ProviderRef,
		"amount": adyenAmount{
			Value:    cmd.AmountMinor,
			Currency: strings.ToUpper(cmd.Currency),
		},
	}

	var resp map[string]any
	path := "/payments/" + cmd.ProviderRef + "/refunds"
	if err := a.post(ctx, cmd.Config["environment"], path, map[string]string{"X-API-Key": apiKey}, body, &resp); err != nil {
		return "", err
	}
	if ref, ok := resp["pspReference"].(string); ok && ref != "" {
		return ref, nil
	}
	return "UNKNOWN", nil
}

// post sends a JSON request to the Checkout API and decodes the response.
func (a *AdyenAdapter) post(ctx context.Context, environment, path string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return NewError(Adyen, ErrUnknown, "encode adyen request", err)
	}

	url := adyenBaseURL(environment) + "/" + adyenCheckoutVersion + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return NewError(Adyen, ErrUnknown, "build adyen request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return NewError(Adyen, ErrTimeout, "adyen request timed out", err)
		}
		return NewError(Adyen, ErrUnknown, "adyen request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		kind := classifyStatus(resp.StatusCode)
		a.logger.Warn("adyen request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(kind)),
		)
		return NewError(Adyen, kind, fmt.Sprintf("adyen returned %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewError(Adyen, ErrUnknown, "read adyen response", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewError(Adyen, ErrUnknown, "decode adyen response", err)
	}
	return nil
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status >= 500:
		return ErrHTTP5xx
	case status == 408 || status == 504:
		return ErrTimeout
	default:
		return ErrValidation
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}

func adyenBaseURL(environment string) string {
	if strings.EqualFold(environment, "live") {
		return "https://checkout-live.adyen.com/checkout"
	}
	return "https://checkout-test.adyen.com"
}
