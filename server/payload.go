package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/app"
)

const maxBodyBytes = 1 << 20

// ErrMalformedInput marks a body that is neither JSON nor usable form data
var ErrMalformedInput = errors.New("malformed input")

// InteractionRequest is the aggregator's session event
type InteractionRequest struct {
	SessionID   string `json:"SessionId"`
	Type        string `json:"Type"`
	Message     string `json:"Message"`
	Mobile      string `json:"Mobile"`
	Sequence    int    `json:"Sequence"`
	ClientState string `json:"ClientState"`
}

// Event converts the request for the state machine
func (r InteractionRequest) Event() app.Event {
	return app.Event{
		SessionID:   r.SessionID,
		Type:        app.EventType(r.Type),
		Message:     r.Message,
		Mobile:      r.Mobile,
		Sequence:    r.Sequence,
		ClientState: r.ClientState,
	}
}

// FulfillmentRequest is the gateway's payment webhook
type FulfillmentRequest struct {
	SessionID     string    `json:"SessionId"`
	OrderID       string    `json:"OrderId"`
	OrderInfo     OrderInfo `json:"OrderInfo"`
	ServiceStatus string    `json:"ServiceStatus"`
}

// OrderInfo is the order block of a webhook; only the status is interpreted
type OrderInfo struct {
	Status string `json:"Status"`
}

// InteractionResponse is the body returned to the aggregator
type InteractionResponse struct {
	SessionID   string        `json:"SessionId"`
	Type        string        `json:"Type"`
	Message     string        `json:"Message"`
	Label       string        `json:"Label"`
	ClientState string        `json:"ClientState"`
	DataType    string        `json:"DataType"`
	FieldType   string        `json:"FieldType"`
	Item        *ItemResponse `json:"Item,omitempty"`
}

// ItemResponse is the checkout line of an AddToCart response
type ItemResponse struct {
	ItemName string  `json:"ItemName"`
	Qty      int     `json:"Qty"`
	Price    float64 `json:"Price"`
}

func newInteractionResponse(sessionID string, d *app.Directive) InteractionResponse {
	resp := InteractionResponse{
		SessionID: sessionID,
		Type:      string(d.Kind),
		Message:   d.Message,
		Label:     d.Label,
		DataType:  d.DataType,
		FieldType: d.FieldType,
	}
	if d.Item != nil {
		resp.Item = &ItemResponse{
			ItemName: d.Item.Name,
			Qty:      d.Item.Qty,
			Price:    d.Item.Price.InexactFloat64(),
		}
	}
	return resp
}

// payload is a decoded request body: its fields and a JSON rendering for audit
type payload struct {
	fields   map[string]any
	raw      json.RawMessage
	fromForm bool
}

// readPayload reads the body as JSON and falls back to form encoding
func readPayload(r *http.Request) (*payload, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrMalformedInput, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err == nil && fields != nil {
		return &payload{fields: fields, raw: json.RawMessage(body)}, nil
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	fields = make(map[string]any, len(values))
	for key := range values {
		fields[key] = values.Get(key)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	return &payload{fields: fields, raw: raw, fromForm: true}, nil
}

// decode fills out from the payload fields. Keys match case-insensitively and
// scalars are converted weakly, so "2" decodes into an int. Fields that fail
// to convert are left at their zero value and reported in the error.
func (p *payload) decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(p.fields); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	return nil
}

// orderInfo returns the raw OrderInfo block, if any
func (p *payload) orderInfo() json.RawMessage {
	for key, value := range p.fields {
		if !strings.EqualFold(key, "OrderInfo") || value == nil {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		return raw
	}
	return nil
}
