package common

// OrderPayload is the exact JSON shape sent to Order/place. Optional price
// fields use omitempty so unset values are omitted from the wire rather
// than sent as null. There is deliberately no CustomTag field: the broker
// rejects any order that includes one.
type OrderPayload struct {
	AccountID         int64   `json:"accountId"`
	ContractID        string  `json:"contractId"`
	Side              int     `json:"side"`
	Type              int     `json:"type"`
	Size              float64 `json:"size"`
	LimitPrice        *float64 `json:"limitPrice,omitempty"`
	StopPrice         *float64 `json:"stopPrice,omitempty"`
	TrailPrice        *float64 `json:"trailPrice,omitempty"`
	StopLossBracket   *float64 `json:"stopLossBracket,omitempty"`
	TakeProfitBracket *float64 `json:"takeProfitBracket,omitempty"`
	ClientNonce       string   `json:"clientNonce,omitempty"`
}

// OrderAck is the broker's response body for a successful Order/place call.
type OrderAck struct {
	Success      bool   `json:"success"`
	OrderID      string `json:"orderId"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Envelope is the broker's common wrapper: every response carries
// success/errorCode/errorMessage alongside the payload-specific fields.
type Envelope struct {
	Success      bool   `json:"success"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}
