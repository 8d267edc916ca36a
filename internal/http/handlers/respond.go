package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/synerchat/server/internal/apperr"
)

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and validates its tags. The
// returned message is safe to send to the caller.
func decodeAndValidate(v *validator.Validate, r *http.Request, dst any) (string, bool) {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return "invalid request body", false
	}
	if err := v.Struct(dst); err != nil {
		return validationMessage(err), false
	}
	return "", true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "len":
		return fmt.Sprintf("%s must be %s characters", fe.Field(), fe.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a valid id", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// respondWithJSON sends body with statusCode
func respondWithJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}

// respondWithAppError maps err onto its status code. Internal causes are
// logged, never sent.
func respondWithAppError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	respondWithError(w, status, apperr.PublicMessage(err))
}
