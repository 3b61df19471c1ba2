package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"tradeshell/internal/identity"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

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

// authResult is the shape every auth form endpoint answers with.
type authResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// decodeRequest reads a JSON body into dst and validates it. The returned
// error is safe to show on a form.
func decodeRequest(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("Invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errors.New(fieldMessage(verrs[0]))
		}
		return errors.New("Invalid request")
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", humanField(fe.Field()))
	case "email":
		return "Please enter a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", humanField(fe.Field()), fe.Param())
	case "len":
		return fmt.Sprintf("%s must be %s characters", humanField(fe.Field()), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", humanField(fe.Field()), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", humanField(fe.Field()))
	}
}

func humanField(name string) string {
	switch name {
	case "fullName":
		return "Full name"
	case "token":
		return "Verification code"
	}
	if name == "" {
		return "Field"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// writeAuthFailure reports a provider failure on a form without navigating.
func (s *Server) writeAuthFailure(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrUnauthorized),
		errors.Is(err, identity.ErrNoSession):
		status = http.StatusUnauthorized
	case errors.Is(err, identity.ErrEmailNotConfirmed):
		status = http.StatusForbidden
	case errors.Is(err, identity.ErrUserExists):
		status = http.StatusConflict
	case errors.Is(err, identity.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, identity.ErrNotConfigured), identity.IsTransient(err):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.log.Warn("identity provider failure", zap.Error(err))
	}
	s.writeJSON(w, status, authResult{Error: identity.DisplayMessage(err)})
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
