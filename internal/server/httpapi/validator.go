package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 16

var phonePattern = regexp.MustCompile(`^\+?[0-9]{5,20}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// On failure it writes a 400 and returns the error.
func (h *Handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, h.log, http.StatusBadRequest, ErrMsgInvalidRequest)
		return err
	}
	if err := h.validate.Struct(dst); err != nil {
		respondJSON(w, h.log, http.StatusBadRequest, errorResponse{Error: ErrMsgInvalidRequest, Fields: formatValidationError(err)})
		return err
	}
	return nil
}

func formatValidationError(err error) map[string]string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"error": "Invalid request format"}
	}
	out := make(map[string]string, len(ve))
	for _, e := range ve {
		switch e.Tag() {
		case "required":
			out[e.Field()] = "This field is required"
		case "phone":
			out[e.Field()] = "Invalid phone number"
		case "uuid4":
			out[e.Field()] = "Invalid operation id"
		case "numeric":
			out[e.Field()] = "Must contain digits only"
		case "min", "max":
			out[e.Field()] = "Invalid length"
		default:
			out[e.Field()] = "Invalid value"
		}
	}
	return out
}
