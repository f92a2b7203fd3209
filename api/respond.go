package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/tidemark/keel/errs"
)

var statusByKind = map[errs.Kind]int{
	errs.KindValidation:   http.StatusBadRequest,
	errs.KindUnauthorized: http.StatusUnauthorized,
	errs.KindForbidden:    http.StatusForbidden,
	errs.KindNotFound:     http.StatusNotFound,
	errs.KindConflict:     http.StatusConflict,
	errs.KindInternal:     http.StatusInternalServerError,
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// respond writes |v| as the JSON body of a |status| response.
func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("error", err).Error("failed to encode response body")
	}
}

// respondError renders a domain error. Tagged errors map onto their HTTP
// status and expose code, field and message; anything untagged is logged and
// rendered opaquely, so causes never leak into responses.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var tagged *errs.Error
	if !errors.As(err, &tagged) {
		tagged = errs.Internal(err)
	}
	if tagged.Kind == errs.KindInternal {
		log.WithFields(log.Fields{
			"error":  err,
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	respond(w, statusByKind[tagged.Kind], errorBody{Error: errorDetail{
		Code:    tagged.Code,
		Field:   tagged.Field,
		Message: tagged.Message,
	}})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	var v = validator.New(validator.WithRequiredStructEnabled())
	// Surface json field names in validation errors, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		var name = strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads the JSON request body into |dto| and runs its validation
// tags. Failures surface as tagged validation errors naming the offending
// field.
func decode(r *http.Request, dto interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dto); err != nil {
		return errs.Validation("INVALID_JSON", "", "request body is not valid json")
	}
	if err := validate.Struct(dto); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errs.Validation("VALIDATION_FAILED", verrs[0].Field(),
				fmt.Sprintf("field violates %q constraint", verrs[0].Tag()))
		}
		return errs.Validation("VALIDATION_FAILED", "", "request body is invalid")
	}
	return nil
}
