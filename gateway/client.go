package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/go-resty/resty/v2"
)

// Service statuses reported back to the gateway
const (
	ServiceStatusSuccess = "success"
	ServiceStatusFailed  = "failed"
)

// ErrUnexpectedStatus is returned when the gateway answers outside 2xx
var ErrUnexpectedStatus = errors.New("unexpected gateway status")

// Acknowledgement is the service fulfillment callback body
type Acknowledgement struct {
	OrderID       string `json:"OrderId"`
	ServiceStatus string `json:"ServiceStatus"`
	Message       string `json:"Message"`
}

// SuccessAcknowledgement tells the gateway the voucher was delivered
func SuccessAcknowledgement(orderID string) Acknowledgement {
	return Acknowledgement{
		OrderID:       orderID,
		ServiceStatus: ServiceStatusSuccess,
		Message:       "Service delivered successfully",
	}
}

// FailureAcknowledgement tells the gateway the service could not be delivered
func FailureAcknowledgement(orderID string) Acknowledgement {
	return Acknowledgement{
		OrderID:       orderID,
		ServiceStatus: ServiceStatusFailed,
		Message:       "Payment received but service failed to deliver",
	}
}

// Options configures the outbound gateway client
type Options struct {
	CallbackURL    string
	StatusURL      string
	POSSalesID     string
	StatusUsername string
	StatusPassword string
	ProxyURL       string // empty means direct connections
	StatusTimeout  time.Duration
}

// Client talks to the payment gateway's callback and status endpoints
type Client struct {
	http          *resty.Client
	callbackURL   string
	statusURL     string
	posSalesID    string
	username      string
	password      string
	statusTimeout time.Duration
	logger        cmtlog.Logger
}

// NewClient builds a gateway client. A missing proxy is not an error.
func NewClient(opts Options, logger cmtlog.Logger) *Client {
	httpClient := resty.New()
	httpClient.SetLogger(restyLogger{logger})
	httpClient.SetHeader("Content-Type", "application/json")
	if opts.ProxyURL != "" {
		httpClient.SetProxy(opts.ProxyURL)
		logger.Info("Outbound gateway calls routed through proxy")
	}

	statusTimeout := opts.StatusTimeout
	if statusTimeout <= 0 {
		statusTimeout = 15 * time.Second
	}

	return &Client{
		http:          httpClient,
		callbackURL:   opts.CallbackURL,
		statusURL:     strings.TrimRight(opts.StatusURL, "/"),
		posSalesID:    opts.POSSalesID,
		username:      opts.StatusUsername,
		password:      opts.StatusPassword,
		statusTimeout: statusTimeout,
		logger:        logger,
	}
}

// Acknowledge posts one acknowledgement. The caller's context bounds the attempt.
func (c *Client) Acknowledge(ctx context.Context, ack Acknowledgement) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(ack).
		Post(c.callbackURL)
	if err != nil {
		return fmt.Errorf("posting acknowledgement for order %s: %w", ack.OrderID, err)
	}

	c.logger.Info("Gateway callback response",
		"order_id", ack.OrderID,
		"service_status", ack.ServiceStatus,
		"status_code", resp.StatusCode(),
		"body", resp.String(),
	)
	if !resp.IsSuccess() {
		return fmt.Errorf("%w %d for order %s", ErrUnexpectedStatus, resp.StatusCode(), ack.OrderID)
	}
	return nil
}

// CheckTransactionStatus asks the gateway what it knows about a client reference.
// The gateway only answers whitelisted server addresses.
func (c *Client) CheckTransactionStatus(ctx context.Context, clientReference string) (json.RawMessage, error) {
	if c.posSalesID == "" {
		return nil, errors.New("POS sales id is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("clientReference", clientReference)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	url := fmt.Sprintf("%s/transactions/%s/status", c.statusURL, c.posSalesID)
	resp, err := req.Get(url)
	if err != nil {
		c.logger.Error("Error checking transaction status", "client_reference", clientReference, "err", err)
		return nil, fmt.Errorf("checking status of %s: %w", clientReference, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode(), resp.String())
	}
	if !json.Valid(resp.Body()) {
		return nil, fmt.Errorf("status response for %s is not JSON", clientReference)
	}
	return json.RawMessage(resp.Body()), nil
}

// restyLogger routes resty's warnings through the service logger
type restyLogger struct {
	logger cmtlog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...), "module", "resty")
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...), "module", "resty", "level", "warn")
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "module", "resty")
}
