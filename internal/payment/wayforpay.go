// Package payment integrates the WayForPay card gateway: it builds signed
// outbound payment requests and verifies signed inbound callbacks.
package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/BohdanKuzik/MamaSHO/internal/config"
	"github.com/BohdanKuzik/MamaSHO/internal/database"
	"github.com/BohdanKuzik/MamaSHO/internal/models"
)

type Client struct {
	MerchantAccount string
	MerchantDomain  string
	GatewayURL      string
	APIURL          string
	Currency        string

	secret     string
	httpClient *http.Client
}

func NewClient(cfg config.PaymentConfig) (*Client, error) {
	if cfg.MerchantAccount == "" || cfg.MerchantSecret == "" {
		return nil, database.ErrGatewayNotConfigured
	}

	return &Client{
		MerchantAccount: cfg.MerchantAccount,
		MerchantDomain:  cfg.MerchantDomain,
		GatewayURL:      cfg.GatewayURL,
		APIURL:          cfg.APIURL,
		Currency:        cfg.Currency,
		secret:          cfg.MerchantSecret,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// signature is the gateway's keyed hash: HMAC-MD5 over the semicolon-joined
// field list, hex encoded. Field order is part of the wire contract.
func (c *Client) signature(fields []string) string {
	mac := hmac.New(md5.New, []byte(c.secret))
	mac.Write([]byte(strings.Join(fields, ";")))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewOrderReference builds a reference that is unique per payment attempt.
// The order id stays the leading segment so callbacks can resolve the order;
// the timestamp and random suffix keep retried attempts from colliding at
// the gateway.
func NewOrderReference(orderID int64) string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%d-%d-%s", orderID, time.Now().Unix(), suffix)
}

// OrderIDFromReference extracts the order id from the reference's leading
// numeric segment. Bare numeric references (no suffix) are accepted too.
func OrderIDFromReference(reference string) (int64, error) {
	head := reference
	if idx := strings.IndexByte(reference, '-'); idx >= 0 {
		head = reference[:idx]
	}

	orderID, err := strconv.ParseInt(head, 10, 64)
	if err != nil || orderID <= 0 {
		return 0, database.ErrOrderNotFound
	}
	return orderID, nil
}

// ClientInfo carries the customer fields the hosted pay page displays.
type ClientInfo struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// Request is one outbound payment attempt, ready to be rendered as an
// auto-submit form posting to the gateway's hosted pay page.
type Request struct {
	MerchantAccount    string
	MerchantDomainName string
	OrderReference     string
	OrderDate          int64
	Amount             string
	Currency           string
	ProductName        string
	ProductCount       int
	ProductPrice       string
	MerchantSignature  string
	Client             ClientInfo
	ReturnURL          string
	ServiceURL         string
	Language           string
}

// NewRequest signs a payment attempt for an order. The amount is the order's
// snapshot total; the whole order is presented as a single product line the
// way the shop fronted it.
func (c *Client) NewRequest(order *models.Order, client ClientInfo, returnURL, serviceURL string) *Request {
	amount := order.TotalPrice.StringFixed(2)
	reference := NewOrderReference(order.ID)
	orderDate := time.Now().Unix()
	productName := fmt.Sprintf("Order #%d", order.ID)

	signature := c.signature([]string{
		c.MerchantAccount,
		c.MerchantDomain,
		reference,
		strconv.FormatInt(orderDate, 10),
		amount,
		c.Currency,
		productName,
		"1",
		amount,
	})

	return &Request{
		MerchantAccount:    c.MerchantAccount,
		MerchantDomainName: c.MerchantDomain,
		OrderReference:     reference,
		OrderDate:          orderDate,
		Amount:             amount,
		Currency:           c.Currency,
		ProductName:        productName,
		ProductCount:       1,
		ProductPrice:       amount,
		MerchantSignature:  signature,
		Client:             client,
		ReturnURL:          returnURL,
		ServiceURL:         serviceURL,
		Language:           "UA",
	}
}

var payFormTemplate = template.Must(template.New("wayforpay_form").Parse(`<form method="POST" action="{{.Action}}" id="wayforpay_form">
<input type="hidden" name="merchantAccount" value="{{.Req.MerchantAccount}}">
<input type="hidden" name="merchantDomainName" value="{{.Req.MerchantDomainName}}">
<input type="hidden" name="orderReference" value="{{.Req.OrderReference}}">
<input type="hidden" name="orderDate" value="{{.Req.OrderDate}}">
<input type="hidden" name="amount" value="{{.Req.Amount}}">
<input type="hidden" name="currency" value="{{.Req.Currency}}">
<input type="hidden" name="productName[]" value="{{.Req.ProductName}}">
<input type="hidden" name="productCount[]" value="{{.Req.ProductCount}}">
<input type="hidden" name="productPrice[]" value="{{.Req.ProductPrice}}">
<input type="hidden" name="merchantSignature" value="{{.Req.MerchantSignature}}">
<input type="hidden" name="clientFirstName" value="{{.Req.Client.FirstName}}">
<input type="hidden" name="clientLastName" value="{{.Req.Client.LastName}}">
<input type="hidden" name="clientEmail" value="{{.Req.Client.Email}}">
<input type="hidden" name="clientPhone" value="{{.Req.Client.Phone}}">
<input type="hidden" name="returnUrl" value="{{.Req.ReturnURL}}">
<input type="hidden" name="serviceUrl" value="{{.Req.ServiceURL}}">
<input type="hidden" name="language" value="{{.Req.Language}}">
</form>
<script>document.getElementById('wayforpay_form').submit();</script>
`))

// RenderForm produces the HTML auto-submit form that forwards the customer
// to the gateway's hosted pay page.
func (c *Client) RenderForm(req *Request) (string, error) {
	var buf bytes.Buffer
	err := payFormTemplate.Execute(&buf, struct {
		Action string
		Req    *Request
	}{c.GatewayURL, req})
	if err != nil {
		return "", fmt.Errorf("render payment form: %w", err)
	}
	return buf.String(), nil
}

// flexString tolerates the gateway sending a field as either a JSON string
// or a bare number; the raw numeric token is preserved as written, because
// the signature was computed over that exact text.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if string(b) == "null" {
		*s = ""
		return nil
	}
	*s = flexString(b)
	return nil
}

// Callback is the gateway's asynchronous payment notification.
type Callback struct {
	MerchantAccount   string     `json:"merchantAccount"`
	OrderReference    string     `json:"orderReference"`
	Amount            flexString `json:"amount"`
	Currency          string     `json:"currency"`
	AuthCode          flexString `json:"authCode"`
	CardPan           string     `json:"cardPan"`
	TransactionStatus string     `json:"transactionStatus"`
	Reason            string     `json:"reason"`
	ReasonCode        flexString `json:"reasonCode"`
	MerchantSignature string     `json:"merchantSignature"`
}

const (
	StatusApproved = "Approved"
	StatusDeclined = "Declined"
	StatusRefunded = "Refunded"
	StatusExpired  = "Expired"
)

// IsTerminalFailure reports whether a transaction status means the payment
// will never complete.
func IsTerminalFailure(status string) bool {
	switch status {
	case StatusDeclined, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

func (c *Client) callbackSignature(cb *Callback) string {
	return c.signature([]string{
		cb.MerchantAccount,
		cb.OrderReference,
		string(cb.Amount),
		cb.Currency,
		string(cb.AuthCode),
		cb.CardPan,
		cb.TransactionStatus,
		string(cb.ReasonCode),
	})
}

// SignCallback sets the callback's merchant signature the way the gateway
// computes it on its side.
func (c *Client) SignCallback(cb *Callback) {
	cb.MerchantSignature = c.callbackSignature(cb)
}

// VerifyCallback recomputes the callback signature from the callback's own
// fields and compares it case-insensitively against the supplied one.
func (c *Client) VerifyCallback(cb *Callback) error {
	if !strings.EqualFold(c.callbackSignature(cb), cb.MerchantSignature) {
		return database.ErrInvalidSignature
	}
	return nil
}

// ParseCallback decodes the gateway's POST body, which arrives either as
// JSON or as a form-encoded payload depending on gateway configuration.
func ParseCallback(r *http.Request) (*Callback, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.Contains(contentType, "application/x-www-form-urlencoded") ||
		strings.Contains(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse callback form: %w", err)
		}
		return &Callback{
			MerchantAccount:   r.PostFormValue("merchantAccount"),
			OrderReference:    r.PostFormValue("orderReference"),
			Amount:            flexString(r.PostFormValue("amount")),
			Currency:          r.PostFormValue("currency"),
			AuthCode:          flexString(r.PostFormValue("authCode")),
			CardPan:           r.PostFormValue("cardPan"),
			TransactionStatus: r.PostFormValue("transactionStatus"),
			Reason:            r.PostFormValue("reason"),
			ReasonCode:        flexString(r.PostFormValue("reasonCode")),
			MerchantSignature: r.PostFormValue("merchantSignature"),
		}, nil
	}

	cb := &Callback{}
	if err := json.NewDecoder(r.Body).Decode(cb); err != nil {
		return nil, fmt.Errorf("decode callback body: %w", err)
	}
	return cb, nil
}

// AmountDecimal parses the callback amount. An unparsable amount is a soft
// condition: the callback may still be processed with a logged warning.
func (cb *Callback) AmountDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(string(cb.Amount))
}

// Ack is the acknowledgment payload the gateway requires for every
// processed callback; without it the gateway retries indefinitely.
type Ack struct {
	OrderReference string `json:"orderReference"`
	Status         string `json:"status"`
	Time           int64  `json:"time"`
}

func NewAck(orderReference string) *Ack {
	return &Ack{
		OrderReference: orderReference,
		Status:         "accept",
		Time:           time.Now().Unix(),
	}
}

// StatusResult is the gateway's answer to a CHECK_STATUS API call.
type StatusResult struct {
	MerchantAccount   string     `json:"merchantAccount"`
	OrderReference    string     `json:"orderReference"`
	TransactionStatus string     `json:"transactionStatus"`
	ReasonCode        flexString `json:"reasonCode"`
	MerchantSignature string     `json:"merchantSignature"`
}

// CheckStatus polls the gateway's API for a transaction's current status and
// verifies the response signature before trusting it.
func (c *Client) CheckStatus(reference string) (*StatusResult, error) {
	signature := c.signature([]string{c.MerchantAccount, reference})

	body, err := json.Marshal(map[string]any{
		"transactionType":   "CHECK_STATUS",
		"merchantAccount":   c.MerchantAccount,
		"orderReference":    reference,
		"merchantSignature": signature,
		"apiVersion":        1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal status request: %w", err)
	}

	resp, err := c.httpClient.Post(c.APIURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("check payment status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("check payment status: gateway returned %d", resp.StatusCode)
	}

	result := &StatusResult{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}

	if result.MerchantSignature != "" {
		expected := c.signature([]string{
			result.MerchantAccount,
			result.OrderReference,
			result.TransactionStatus,
			string(result.ReasonCode),
		})
		if !strings.EqualFold(expected, result.MerchantSignature) {
			return nil, database.ErrInvalidSignature
		}
	}

	return result, nil
}
