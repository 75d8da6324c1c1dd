package exchange

import (
	"encoding/json"
	"errors"
	"strings"
)

// APIError carries the error strings of a Kraken response envelope.
type APIError struct {
	Errors []string
}

func (e *APIError) Error() string {
	return "kraken: " + strings.Join(e.Errors, "; ")
}

// Temporary reports whether the exchange asked the caller to retry later.
func (e *APIError) Temporary() bool {
	for _, msg := range e.Errors {
		switch {
		case strings.HasPrefix(msg, "EService:Unavailable"),
			strings.HasPrefix(msg, "EService:Busy"),
			strings.HasPrefix(msg, "EAPI:Rate limit exceeded"),
			strings.HasPrefix(msg, "EGeneral:Temporary lockout"):
			return true
		}
	}
	return false
}

func decodeEnvelope(data []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if len(env.Error) > 0 {
		return &APIError{Errors: env.Error}
	}
	if out == nil {
		return nil
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return errors.New("kraken: empty result")
	}
	return json.Unmarshal(env.Result, out)
}
