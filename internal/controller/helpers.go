package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
	"github.com/cassiomorais/billing/pkg/breaker"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domainErrors.ErrSubscriptionNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrTenantNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrUnsupportedTier, http.StatusBadRequest, "unsupported_tier"},
	{domainErrors.ErrUnsupportedCycle, http.StatusBadRequest, "unsupported_cycle"},
	{domainErrors.ErrUnsupportedCurrency, http.StatusBadRequest, "unsupported_currency"},
	{domainErrors.ErrPriceUnavailable, http.StatusUnprocessableEntity, "price_unavailable"},
	{domainErrors.ErrGatewayDeclined, http.StatusUnprocessableEntity, "charge_declined"},
	{domainErrors.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
	{domainErrors.ErrGatewayTimeout, http.StatusServiceUnavailable, "gateway_unavailable"},
	{domainErrors.ErrGatewayMalformedResponse, http.StatusBadGateway, "gateway_error"},
	{domainErrors.ErrRateUnavailable, http.StatusServiceUnavailable, "rate_unavailable"},
	{domainErrors.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{domainErrors.ErrForbiddenOrigin, http.StatusForbidden, "forbidden_origin"},
	{domainErrors.ErrUnsupportedContent, http.StatusUnsupportedMediaType, "unsupported_content"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	var breakerErr *breaker.OpenError
	if errors.As(err, &breakerErr) {
		resp.Code = "gateway_unavailable"
		resp.Error = "payment gateway temporarily unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
