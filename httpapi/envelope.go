package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/middleware"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// requestError is a malformed request. It classifies as a validation error.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return packguard.ErrValidation }

func badRequest(msg string) error { return &requestError{msg: msg} }

// StatusFor maps a stable error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case packguard.CodeUnauthorized, packguard.CodeExpired, packguard.CodeInvalidCode:
		return http.StatusUnauthorized
	case packguard.CodeForbidden:
		return http.StatusForbidden
	case packguard.CodeTooManyAttempts, packguard.CodeRateLimited:
		return http.StatusTooManyRequests
	case packguard.CodeValidation:
		return http.StatusBadRequest
	case packguard.CodeConflict:
		return http.StatusConflict
	case packguard.CodeNotFound:
		return http.StatusNotFound
	case packguard.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// errorWriter renders engine errors. Raw store and driver errors never
// reach the client; they are logged instead.
func errorWriter(log logrus.FieldLogger) middleware.ErrorWriter {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		code := packguard.ErrorCode(err)
		status := StatusFor(code)

		message := packguard.PublicMessage(err)
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			message = reqErr.msg
		}

		if status >= http.StatusInternalServerError {
			log.WithFields(logrus.Fields{
				"request_id": middleware.GetRequestID(r),
				"path":       r.URL.Path,
				"code":       code,
				"error":      err,
			}).Error("request failed")
		}
		writeJSON(w, status, Envelope{Success: false, Message: message, ErrorCode: code})
	}
}

// decode reads a JSON body into dst and rejects unknown fields.
func decode(r *http.Request, dst any) error {
	return decodeBody(r, dst, false)
}

// decodeOptional is decode for endpoints where an empty body is valid. The
// body length is not trusted: chunked requests report ContentLength -1.
func decodeOptional(r *http.Request, dst any) error {
	return decodeBody(r, dst, true)
}

func decodeBody(r *http.Request, dst any, optional bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if optional {
			return nil
		}
		return badRequest("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return badRequest("request body too large")
		case errors.Is(err, io.EOF):
			if optional {
				return nil
			}
			return badRequest("request body is required")
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			return badRequest(strings.TrimPrefix(err.Error(), "json: "))
		default:
			return badRequest("malformed JSON body")
		}
	}
	if dec.More() {
		return badRequest("request body must be a single JSON object")
	}
	return nil
}
