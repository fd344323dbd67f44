package mpesa

import (
	"encoding/json"
	"fmt"
)

// callbackEnvelope mirrors the Daraja webhook payload:
// {"Body": {"stkCallback": {...}}}.
type callbackEnvelope struct {
	Body struct {
		STKCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        *int   `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []callbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type callbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// CallbackResult is the normalized view of one gateway callback. Metadata
// fields are populated only when ResultCode is 0.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string

	Amount          int
	ReceiptNumber   string
	TransactionDate string
	PhoneNumber     string
}

// Success reports whether the gateway confirmed the payment.
func (r *CallbackResult) Success() bool {
	return r.ResultCode == 0
}

// ParseCallback validates the callback envelope and extracts the result.
// The merchant/checkout correlation ids and a result code are required;
// anything else is ErrMalformedCallback.
func ParseCallback(raw []byte) (*CallbackResult, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.STKCallback
	if cb == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", ErrMalformedCallback)
	}
	if cb.MerchantRequestID == "" || cb.CheckoutRequestID == "" || cb.ResultCode == nil {
		return nil, fmt.Errorf("%w: missing MerchantRequestID, CheckoutRequestID or ResultCode", ErrMalformedCallback)
	}

	result := &CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        *cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	if result.ResultCode == 0 && cb.CallbackMetadata != nil {
		for _, item := range cb.CallbackMetadata.Item {
			switch item.Name {
			case "Amount":
				if v, ok := item.Value.(float64); ok {
					result.Amount = int(v)
				}
			case "MpesaReceiptNumber":
				if v, ok := item.Value.(string); ok {
					result.ReceiptNumber = v
				}
			case "TransactionDate":
				result.TransactionDate = stringifyValue(item.Value)
			case "PhoneNumber":
				result.PhoneNumber = stringifyValue(item.Value)
			}
		}
	}
	return result, nil
}

// stringifyValue renders metadata values that Daraja sends as bare numbers
// (transaction date, phone) without a float exponent.
func stringifyValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}
