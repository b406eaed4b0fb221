package api

import (
	"time"

	validator "github.com/go-playground/validator/v10"
)

// Response is the public envelope every endpoint returns.
type Response struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Cached    bool      `json:"cached"`
	Timestamp time.Time `json:"timestamp"`
}

func OK(data any) Response {
	return Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// Cached marks a response as served from the cache.
func Cached(data any) Response {
	r := OK(data)
	r.Cached = true
	return r
}

// Error builds a failure envelope. The underlying error text is passed
// through as-is.
func Error(message string, err error) Response {
	r := Response{
		Success:   false,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// ValidationError flattens validator failures into a readable message.
func ValidationError(errs validator.ValidationErrors) Response {
	msg := "validation failed"
	if len(errs) > 0 {
		first := errs[0]
		switch first.ActualTag() {
		case "required":
			msg = "field " + first.Field() + " is required"
		case "min":
			msg = "field " + first.Field() + " is too short"
		case "max":
			msg = "field " + first.Field() + " is too long"
		default:
			msg = "field " + first.Field() + " is invalid"
		}
	}
	return Response{
		Success:   false,
		Message:   msg,
		Timestamp: time.Now(),
	}
}
