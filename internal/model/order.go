package model

// HedgeOrderRequest describes the short the strategy wants opened.
// Notional is fixed by config, independent of the triggering transfer.
type HedgeOrderRequest struct {
	Symbol       string
	Side         string
	NotionalUSDT float64
	Leverage     int
	MarginType   string
}

// OrderResult is the venue's acknowledgment of a placed order.
type OrderResult struct {
	OrderID  int64  `json:"orderId"`
	Symbol   string `json:"symbol"`
	Status   string `json:"status"`
	ClientID string `json:"clientOrderId"`
}
