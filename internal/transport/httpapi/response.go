package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

// StatusClientClosedRequest — клиент ушёл раньше, чем операция завершилась.
const StatusClientClosedRequest = 499

var (
	errMalformedBody = errors.New("malformed request body")
	errBadQuery      = errors.New("invalid query parameter")
)

type errorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// statusFor сопоставляет вид ошибки и HTTP статус.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errMalformedBody), errors.Is(err, errBadQuery):
		return http.StatusBadRequest
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsConstraintViolation(err):
		return http.StatusConflict
	case domain.IsCanceled(err):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorResponse{Error: err.Error()}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Error = domain.ErrValidation.Error()
		for _, v := range verr.Violations {
			body.Violations = append(body.Violations, v.Error())
		}
	}
	if status == http.StatusInternalServerError {
		a.logger.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

// decode читает JSON тело; неизвестные поля и мусор после объекта отклоняются.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	if dec.More() {
		return errMalformedBody
	}
	return nil
}

