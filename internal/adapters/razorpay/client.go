package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

func NewClient(baseURL, keyID, keySecret string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		keySecret: keySecret,
		http:      &http.Client{Timeout: timeout},
	}
}

func (c *Client) KeyID() string {
	return c.keyID
}

type transferPayload struct {
	Account  string            `json:"account"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Notes    map[string]string `json:"notes,omitempty"`
	OnHold   bool              `json:"on_hold"`
}

type orderPayload struct {
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Receipt   string            `json:"receipt"`
	Notes     map[string]string `json:"notes,omitempty"`
	Transfers []transferPayload `json:"transfers,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder registers an order for req.Amount. Transport failures and 5xx
// responses are ErrProviderError; 4xx responses are also ErrProviderRejected.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.ProcessorOrder, error) {
	if c.keyID == "" || c.keySecret == "" {
		return domain.ProcessorOrder{}, errors.Mark(errors.New("processor credentials are not configured"), domain.ErrProviderError)
	}

	payload := orderPayload{
		Amount:   int64(req.Amount),
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}
	for _, t := range req.Transfers {
		payload.Transfers = append(payload.Transfers, transferPayload{
			Account:  t.Account,
			Amount:   int64(t.Amount),
			Currency: t.Currency,
			Notes:    t.Notes,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ProcessorOrder{}, errors.Wrap(err, "encode order")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return domain.ProcessorOrder{}, errors.Wrap(err, "build order request")
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.ProcessorOrder{}, errors.Mark(errors.Wrap(err, "create order"), domain.ErrProviderError)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ProcessorOrder{}, errors.Mark(errors.Wrap(err, "read order response"), domain.ErrProviderError)
	}

	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		err := errors.Mark(errors.Newf("create order: status %d: %s %s", resp.StatusCode, e.Error.Code, e.Error.Description), domain.ErrProviderError)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			err = errors.Mark(err, domain.ErrProviderRejected)
		}
		return domain.ProcessorOrder{}, err
	}

	var out orderResponse
	if err := json.Unmarshal(data, &out); err != nil || out.ID == "" {
		return domain.ProcessorOrder{}, errors.Mark(errors.Newf("create order: malformed response"), domain.ErrProviderError)
	}
	return domain.ProcessorOrder{
		ID:       out.ID,
		KeyID:    c.keyID,
		Amount:   domain.Money(out.Amount),
		Currency: out.Currency,
		Status:   out.Status,
	}, nil
}

// VerifySignature checks the checkout signature for orderID and paymentID.
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
	if c.keySecret == "" || orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	expected := Sign(c.keySecret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign returns the hex HMAC-SHA256 of "orderID|paymentID" under secret.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
