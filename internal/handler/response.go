package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"despacho/internal/repository"
	"despacho/internal/service"
)

// ErrorResponse represents an error response. Code carries the machine-
// readable rejection type so the device sync queue can tell validation
// rejections (never retried) apart from transient failures.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Remaining string `json:"remaining,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)

	response := ErrorResponse{Error: err.Error(), Code: errorCode(err)}

	var insufficient *service.InsufficientFuelError
	if errors.As(err, &insufficient) {
		response.Remaining = insufficient.Remaining.String()
	}

	c.JSON(code, response)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// errorCode maps an error to its wire code. Empty for errors the client
// should treat as transient.
func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrNonPositiveQuantity):
		return "NonPositiveQuantity"
	case errors.Is(err, service.ErrInvalidAllocationState):
		return "InvalidAllocationState"
	case errors.Is(err, service.ErrOutOfSequenceDelivery):
		return "OutOfSequenceDelivery"
	case errors.Is(err, service.ErrInsufficientRemainingFuel):
		return "InsufficientRemainingFuel"
	case errors.Is(err, service.ErrConcurrentModification):
		return "ConcurrentModification"
	case errors.Is(err, service.ErrInvalidMarkerReadings):
		return "InvalidMarkerReadings"
	case errors.Is(err, repository.ErrNotFound):
		return "NotFound"
	default:
		return ""
	}
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidLedgerID),
		errors.Is(err, service.ErrInvalidAllocationID),
		errors.Is(err, service.ErrInvalidDriverID),
		errors.Is(err, service.ErrInvalidTripID),
		errors.Is(err, service.ErrNonPositiveQuantity),
		errors.Is(err, service.ErrInvalidMarkerReadings),
		errors.Is(err, service.ErrUnknownOperationKind):
		return http.StatusBadRequest

	// Conflict errors - state machine or conservation violations
	case errors.Is(err, service.ErrInvalidAllocationState),
		errors.Is(err, service.ErrOutOfSequenceDelivery),
		errors.Is(err, service.ErrInsufficientRemainingFuel),
		errors.Is(err, service.ErrConcurrentModification),
		errors.Is(err, service.ErrLedgerCompleted),
		errors.Is(err, service.ErrDriverHasActiveTrip),
		errors.Is(err, service.ErrCannotEndActiveTrip),
		errors.Is(err, service.ErrTripAlreadyEnded):
		return http.StatusConflict

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
