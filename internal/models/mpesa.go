package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// MpesaTransaction is the append-only audit log of every gateway callback
// received, matched or not. Rows are never updated after insert.
type MpesaTransaction struct {
	bun.BaseModel `bun:"table:mpesa_transactions"`

	ID                 string    `bun:"id,pk" json:"id"`
	MerchantRequestID  string    `bun:"merchant_request_id,nullzero" json:"merchant_request_id,omitempty"`
	CheckoutRequestID  string    `bun:"checkout_request_id,nullzero" json:"checkout_request_id,omitempty"`
	ResultCode         int       `bun:"result_code,notnull" json:"result_code"`
	ResultDesc         string    `bun:"result_desc,nullzero" json:"result_desc,omitempty"`
	Amount             float64   `bun:"amount,nullzero" json:"amount,omitempty"`
	MpesaReceiptNumber string    `bun:"mpesa_receipt_number,nullzero" json:"mpesa_receipt_number,omitempty"`
	TransactionDate    int64     `bun:"transaction_date,nullzero" json:"transaction_date,omitempty"`
	PhoneNumber        string    `bun:"phone_number,nullzero" json:"phone_number,omitempty"`
	CallbackPayload    string    `bun:"callback_payload,type:jsonb,nullzero" json:"callback_payload,omitempty"`
	OrderID            string    `bun:"order_id,nullzero" json:"order_id,omitempty"`
	CreatedAt          time.Time `bun:"created_at,notnull" json:"created_at"`
}

// STKCallbackEnvelope mirrors the gateway's nested webhook body.
type STKCallbackEnvelope struct {
	Body struct {
		StkCallback *STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []STKCallbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type STKCallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// STKCallbackDetails is the flattened metadata of a callback. Every field
// except the correlation ids may be absent.
type STKCallbackDetails struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            float64
	ReceiptNumber     string
	PhoneNumber       string
	TransactionDate   int64
}

// Flatten extracts the optional metadata items into a flat struct. The
// gateway sends numbers for Amount/PhoneNumber/TransactionDate and a string
// for the receipt, but it is not consistent about it, so both are accepted.
func (c *STKCallback) Flatten() STKCallbackDetails {
	d := STKCallbackDetails{
		MerchantRequestID: c.MerchantRequestID,
		CheckoutRequestID: c.CheckoutRequestID,
		ResultCode:        c.ResultCode,
		ResultDesc:        c.ResultDesc,
	}
	for _, item := range c.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			d.Amount = toFloat(item.Value)
		case "MpesaReceiptNumber":
			d.ReceiptNumber = toString(item.Value)
		case "PhoneNumber":
			d.PhoneNumber = toString(item.Value)
		case "TransactionDate":
			d.TransactionDate = int64(toFloat(item.Value))
		}
	}
	return d
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprintf("%.0f", s)
	case json.Number:
		return s.String()
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// STKPushResponse is the gateway's synchronous answer to a push request.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}
