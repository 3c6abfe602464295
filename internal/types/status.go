package types

import (
	"strconv"
	"strings"
)

// OrderStatus is the normalised broker order status. Values outside the
// known set carry the raw broker value unchanged.
type OrderStatus string

const (
	StatusCancelled OrderStatus = "CANCELLED"
	StatusTraded    OrderStatus = "TRADED"
	StatusTransit   OrderStatus = "TRANSIT"
	StatusRejected  OrderStatus = "REJECTED"
	StatusPending   OrderStatus = "PENDING"
	StatusExpired   OrderStatus = "EXPIRED"
)

var statusCodes = map[int]OrderStatus{
	1: StatusCancelled,
	2: StatusTraded,
	4: StatusTransit,
	5: StatusRejected,
	6: StatusPending,
	7: StatusExpired,
}

// MapStatusCode maps a numeric order-feed status code. Unknown codes pass
// through as their decimal string.
func MapStatusCode(code int) OrderStatus {
	if s, ok := statusCodes[code]; ok {
		return s
	}
	return OrderStatus(strconv.Itoa(code))
}

// MapKiteStatus maps a Kite Connect order status string onto the same set.
func MapKiteStatus(raw string) OrderStatus {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case "COMPLETE":
		return StatusTraded
	case "CANCELLED":
		return StatusCancelled
	case "REJECTED":
		return StatusRejected
	case "LAPSED", "EXPIRED":
		return StatusExpired
	case "OPEN", "TRIGGER PENDING", "AMO REQ RECEIVED":
		return StatusPending
	case "PUT ORDER REQ RECEIVED", "VALIDATION PENDING", "OPEN PENDING",
		"MODIFY VALIDATION PENDING", "MODIFY PENDING", "CANCEL PENDING":
		return StatusTransit
	}
	return OrderStatus(raw)
}

// Terminal reports whether no further transitions are expected.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusTraded, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Failed reports a terminal status that did not fill.
func (s OrderStatus) Failed() bool {
	switch s {
	case StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}
