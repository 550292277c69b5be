package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

const (
	codeInvalidRequestBody  = "invalid_request_body"
	codeValidation          = "validation_failed"
	codeNoItems             = "no_order_items"
	codeInvalidLineItem     = "invalid_line_item"
	codeInvalidQuantity     = "invalid_quantity"
	codeInvalidAddress      = "invalid_shipping_address"
	codeInvalidPayment      = "invalid_payment_method"
	codeInvalidStatus       = "invalid_status"
	codeProductNotFound     = "product_not_found"
	codeInsufficientStock   = "insufficient_stock"
	codeTransactionConflict = "transaction_conflict"
	codeOrderNotFound       = "order_not_found"
	codeAlreadyCancelled    = "order_already_cancelled"
	codeOrderDelivered      = "order_delivered"
	codeInvalidTransition   = "invalid_status_transition"
	codeIdempotencyInFlight = "idempotency_in_progress"
	codeUnauthorized        = "unauthorized"
	codeForbidden           = "forbidden"
	codeNotFound            = "not_found"
	codeMethodNotAllowed    = "method_not_allowed"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
	Retry bool   `json:"retry,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeErrorBody(w, status, errorResponse{Error: msg, Code: code})
}

func writeErrorBody(w http.ResponseWriter, status int, body errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(body)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// classify maps service errors to a status and error body. Unknown errors
// become a 500 without leaking their message.
func classify(err error) (int, errorResponse) {
	var ve *orders.ValidationError
	var se *orders.StockError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorResponse{Error: ve.Error(), Code: validationCode(ve.Err), Field: ve.Field}
	case errors.Is(err, orders.ErrNoItems):
		return http.StatusBadRequest, errorResponse{Error: "No order items", Code: codeNoItems}
	case errors.Is(err, orders.ErrProductNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error(), Code: codeProductNotFound}
	case errors.As(err, &se):
		code := codeInsufficientStock
		if se.Retryable {
			code = codeTransactionConflict
		}
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: code, Retry: se.Retryable}
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, errorResponse{Error: "Order not found", Code: codeOrderNotFound}
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "Not authorized for this order", Code: codeForbidden}
	case errors.Is(err, orders.ErrOrderAlreadyCancelled):
		return http.StatusConflict, errorResponse{Error: "Order is already cancelled", Code: codeAlreadyCancelled}
	case errors.Is(err, orders.ErrOrderDelivered):
		return http.StatusConflict, errorResponse{Error: "Cannot cancel a delivered order", Code: codeOrderDelivered}
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: codeInvalidTransition}
	case errors.Is(err, orders.ErrInvalidStatus):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: codeInvalidStatus}
	case errors.Is(err, redisx.ErrRequestInFlight):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: codeIdempotencyInFlight, Retry: true}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error", Code: codeInternalError}
	}
}

func validationCode(err error) string {
	switch {
	case errors.Is(err, orders.ErrInvalidQuantity):
		return codeInvalidQuantity
	case errors.Is(err, orders.ErrInvalidLineItem):
		return codeInvalidLineItem
	case errors.Is(err, orders.ErrInvalidShippingAddress):
		return codeInvalidAddress
	case errors.Is(err, orders.ErrInvalidPaymentMethod):
		return codeInvalidPayment
	case errors.Is(err, orders.ErrInvalidStatus):
		return codeInvalidStatus
	default:
		return codeValidation
	}
}
