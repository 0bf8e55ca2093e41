package payhero

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kopakash/loanbot/internal/payment"
)

// ErrInvalidCallback wraps payloads that match neither known callback shape.
var ErrInvalidCallback = errors.New("payhero: invalid callback payload")

// PayHero posts either a flat body or its STK result wrapped in "response".
const callbackSchema = `{
  "type": "object",
  "anyOf": [
    {
      "required": ["external_reference"],
      "properties": {
        "external_reference": {"type": "string", "minLength": 1},
        "status": {"type": ["string", "boolean", "null"]},
        "transaction_id": {"type": ["string", "null"]},
        "checkout_request_id": {"type": ["string", "null"]}
      }
    },
    {
      "required": ["response"],
      "properties": {
        "response": {
          "type": "object",
          "required": ["ExternalReference"],
          "properties": {
            "ExternalReference": {"type": "string", "minLength": 1},
            "Status": {"type": ["string", "null"]},
            "ResultCode": {"type": ["integer", "string", "null"]},
            "MpesaReceiptNumber": {"type": ["string", "null"]},
            "CheckoutRequestID": {"type": ["string", "null"]}
          }
        }
      }
    }
  ]
}`

var callbackValidator = mustSchema(callbackSchema)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("payhero: bad callback schema: %v", err))
	}
	return s
}

type flatCallback struct {
	ExternalReference string          `json:"external_reference"`
	Status            json.RawMessage `json:"status"`
	TransactionID     string          `json:"transaction_id"`
	CheckoutRequestID string          `json:"checkout_request_id"`
	Response          *nestedResponse `json:"response"`
}

type nestedResponse struct {
	ExternalReference  string          `json:"ExternalReference"`
	Status             string          `json:"Status"`
	ResultCode         json.RawMessage `json:"ResultCode"`
	MpesaReceiptNumber string          `json:"MpesaReceiptNumber"`
	CheckoutRequestID  string          `json:"CheckoutRequestID"`
}

// ParseCallback validates body and normalizes it into an Observation.
func ParseCallback(body []byte) (payment.Observation, error) {
	result, err := callbackValidator.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return payment.Observation{}, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return payment.Observation{}, fmt.Errorf("%w: %s", ErrInvalidCallback, strings.Join(errs, "; "))
	}

	var cb flatCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return payment.Observation{}, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	if r := cb.Response; r != nil && r.ExternalReference != "" {
		obs := payment.Observation{Reference: strings.TrimSpace(r.ExternalReference)}
		if strings.TrimSpace(r.Status) != "" {
			obs.Status = MapStatus(r.Status)
		} else if code, ok := resultCode(r.ResultCode); ok {
			obs.Status = mapResultCode(code)
		} else {
			obs.Status = MapStatus("")
		}
		obs.TransactionID = firstNonEmpty(r.MpesaReceiptNumber, r.CheckoutRequestID)
		return obs, nil
	}

	status, _ := stringValue(cb.Status)
	return payment.Observation{
		Reference:     strings.TrimSpace(cb.ExternalReference),
		Status:        MapStatus(status),
		TransactionID: firstNonEmpty(cb.TransactionID, cb.CheckoutRequestID),
	}, nil
}

func stringValue(raw json.RawMessage) (string, bool) {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, true
}

func resultCode(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	if s, ok := stringValue(raw); ok {
		if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}
