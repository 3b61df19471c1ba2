package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotConfigured      = errors.New("identity provider not configured")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrUserExists         = errors.New("user already registered")
	ErrInvalidOTP         = errors.New("invalid or expired one-time code")
	ErrWeakPassword       = errors.New("weak password")
	ErrRateLimited        = errors.New("rate limited by identity provider")
	ErrUnauthorized       = errors.New("session rejected by identity provider")
	ErrNoSession          = errors.New("no active session")
	ErrUnavailable        = errors.New("identity provider unavailable")
)

// AuthError is a non-2xx response from the provider.
type AuthError struct {
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider %d: %s", e.Status, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.kind
}

// errorBody covers both the legacy OAuth-style and the current GoTrue error shapes.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func parseAuthError(status int, body []byte) *AuthError {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	code := eb.ErrorCode
	if code == "" {
		code = eb.Error
	}
	msg := firstNonEmpty(eb.Msg, eb.ErrorDescription, eb.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	return &AuthError{Status: status, Code: code, Message: msg, kind: classify(status, code, msg)}
}

func classify(status int, code, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case code == "email_not_confirmed" || strings.Contains(lower, "email not confirmed"):
		return ErrEmailNotConfirmed
	case code == "user_already_exists" || code == "email_exists" || strings.Contains(lower, "already registered"):
		return ErrUserExists
	case code == "otp_expired" || strings.Contains(lower, "token has expired or is invalid"):
		return ErrInvalidOTP
	case code == "weak_password" || strings.Contains(lower, "password should be"):
		return ErrWeakPassword
	case code == "invalid_credentials" || code == "invalid_grant" || strings.Contains(lower, "invalid login credentials"):
		return ErrInvalidCredentials
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status >= http.StatusInternalServerError:
		return ErrUnavailable
	default:
		return nil
	}
}

// DisplayMessage turns a provider error into the string shown on an auth form.
func DisplayMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, ErrEmailNotConfirmed):
		return "Please verify your email before signing in"
	case errors.Is(err, ErrUserExists):
		return "An account with this email already exists"
	case errors.Is(err, ErrInvalidOTP):
		return "Invalid or expired verification code"
	case errors.Is(err, ErrRateLimited):
		return "Too many attempts, please try again later"
	case errors.Is(err, ErrNotConfigured):
		return "Authentication is not configured"
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrUnauthorized):
		return "Your session has expired, please sign in again"
	case errors.Is(err, ErrUnavailable):
		return "Authentication service is unavailable, please try again"
	}

	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	return "Authentication failed"
}

// IsTransient reports whether err says nothing about the credentials themselves.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
