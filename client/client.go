package client

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/server"
)

// Step is one user action in a scripted USSD conversation
type Step struct {
	Name    string
	Type    string // Initiation, Response or Timeout
	Message string
}

// StepResult records what the service answered to a step
type StepResult struct {
	Step     Step
	Sequence int
	Latency  time.Duration
	Response server.InteractionResponse
}

// PurchaseScript walks the menu from dial to checkout for qty checkers
func PurchaseScript(qty int, name, phone string) []Step {
	return []Step{
		{Name: "Dial", Type: "Initiation"},
		{Name: "Choose buy", Type: "Response", Message: "1"},
		{Name: "Quantity", Type: "Response", Message: strconv.Itoa(qty)},
		{Name: "Name", Type: "Response", Message: name},
		{Name: "Receiver phone", Type: "Response", Message: phone},
		{Name: "Confirm", Type: "Response", Message: "1"},
	}
}

// RecoveryScript walks the lost voucher menu
func RecoveryScript(name, phone string) []Step {
	return []Step{
		{Name: "Dial", Type: "Initiation"},
		{Name: "Choose retrieve", Type: "Response", Message: "2"},
		{Name: "Recovery name", Type: "Response", Message: name},
		{Name: "Recovery phone", Type: "Response", Message: phone},
	}
}

// Simulator plays the aggregator against a running service
type Simulator struct {
	http *resty.Client
}

// NewSimulator creates a simulator for the service at baseURL
func NewSimulator(baseURL string, timeout time.Duration) *Simulator {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Simulator{http: httpClient}
}

// Run sends the steps in order on one session and stops at the first terminal reply
func (s *Simulator) Run(ctx context.Context, sessionID, mobile string, steps []Step) ([]StepResult, error) {
	var results []StepResult
	for i, step := range steps {
		body := server.InteractionRequest{
			SessionID: sessionID,
			Type:      step.Type,
			Message:   step.Message,
			Mobile:    mobile,
			Sequence:  i + 1,
		}

		var out server.InteractionResponse
		start := time.Now()
		resp, err := s.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&out).
			Post("/interaction")
		elapsed := time.Since(start)
		if err != nil {
			return results, fmt.Errorf("step %q: %w", step.Name, err)
		}
		if !resp.IsSuccess() {
			return results, fmt.Errorf("step %q: unexpected status %d: %s", step.Name, resp.StatusCode(), resp.String())
		}

		results = append(results, StepResult{
			Step:     step,
			Sequence: i + 1,
			Latency:  elapsed,
			Response: out,
		})
		if out.Type != "response" {
			break
		}
	}
	return results, nil
}

// Fulfill posts a payment webhook as the gateway would
func (s *Simulator) Fulfill(ctx context.Context, sessionID, orderID, status string) (int, error) {
	body := server.FulfillmentRequest{
		SessionID:     sessionID,
		OrderID:       orderID,
		OrderInfo:     server.OrderInfo{Status: status},
		ServiceStatus: status,
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/fulfillment")
	if err != nil {
		return 0, fmt.Errorf("posting fulfillment: %w", err)
	}
	return resp.StatusCode(), nil
}

// WriteCSV writes one row per step with its latency
func WriteCSV(w io.Writer, iteration int, results []StepResult) error {
	writer := csv.NewWriter(w)
	for _, result := range results {
		record := []string{
			strconv.Itoa(iteration),
			result.Step.Name,
			strconv.Itoa(result.Sequence),
			result.Response.Type,
			result.Response.Label,
			strconv.FormatInt(result.Latency.Milliseconds(), 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// CSVHeader names the columns written by WriteCSV
var CSVHeader = []string{"Iteration", "Step", "Sequence", "Type", "Label", "Latency_ms"}
