package mpesa

import (
	// Go Internal Packages
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	// Local Packages
	apperrors "github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/errors"

	// External Packages
	"github.com/shopspring/decimal"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	oauthPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	DefaultTransactionType = "CustomerPayBillOnline"
	DefaultDescription     = "Insurance Payment"

	timestampLayout = "20060102150405"
	maxBodyBytes    = 1 << 20
)

// The gateway validates the password timestamp against Nairobi time.
var eat = time.FixedZone("EAT", 3*60*60)

// BaseURLFor picks the gateway host for an environment name.
func BaseURLFor(environment string) string {
	if strings.EqualFold(environment, "production") {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	CallbackURL     string
	TransactionType string
	Timeout         time.Duration
}

// Client talks to the STK push API. It never retries and never caches
// tokens: every push authenticates again.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = DefaultTransactionType
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient, now: time.Now}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// Authenticate exchanges the consumer key and secret for an access token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+oauthPath, nil)
	if err != nil {
		return "", &apperrors.GatewayError{Op: "authenticate", Err: err}
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	body, status, err := c.do(req)
	if err != nil {
		return "", &apperrors.GatewayError{Op: "authenticate", Err: err}
	}
	if status != http.StatusOK {
		return "", &apperrors.GatewayError{Op: "authenticate", StatusCode: status, Body: body}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &apperrors.GatewayError{Op: "authenticate", StatusCode: status, Body: body, Err: err}
	}
	if tr.AccessToken == "" {
		return "", &apperrors.GatewayError{Op: "authenticate", StatusCode: status, Body: body, Err: fmt.Errorf("empty access token")}
	}
	return tr.AccessToken, nil
}

type PushRequest struct {
	Phone            string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type pushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// Password derives the request password from shortcode, passkey and timestamp.
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

// WholeAmount rounds up to whole shillings, the only unit the gateway accepts.
func WholeAmount(d decimal.Decimal) int64 {
	return d.Ceil().IntPart()
}

// Push asks the gateway to prompt the customer's phone. A timeout here is
// ambiguous: the gateway may still have accepted the request.
func (c *Client) Push(ctx context.Context, token string, pr PushRequest) (*PushResponse, error) {
	ts := c.now().In(eat).Format(timestampLayout)
	desc := pr.Description
	if desc == "" {
		desc = DefaultDescription
	}

	payload, err := json.Marshal(pushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		Timestamp:         ts,
		TransactionType:   c.cfg.TransactionType,
		Amount:            WholeAmount(pr.Amount),
		PartyA:            pr.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       pr.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  pr.AccountReference,
		TransactionDesc:   desc,
	})
	if err != nil {
		return nil, &apperrors.GatewayError{Op: "push", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+pushPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &apperrors.GatewayError{Op: "push", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return nil, &apperrors.GatewayError{Op: "push", Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &apperrors.GatewayError{Op: "push", StatusCode: status, Body: body}
	}

	var resp PushResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &apperrors.GatewayError{Op: "push", StatusCode: status, Body: body, Err: err}
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return nil, &apperrors.GatewayError{Op: "push", StatusCode: status, Body: body, Err: fmt.Errorf("push not accepted: %s", resp.ResponseDescription)}
	}
	return &resp, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, res.StatusCode, err
	}
	return body, res.StatusCode, nil
}
