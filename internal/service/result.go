// Package service exposes the pipeline entry points used by the HTTP API and the CLI.
// Every operation returns a Result; errors never cross the boundary as panics or
// bare error values.
package service

import (
	"errors"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

// Kind classifies a failed Result so transports can pick a status code.
type Kind string

// Failure kinds.
const (
	KindInvalid     Kind = "invalid"
	KindNotFound    Kind = "not_found"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// Result is the caller-facing outcome of a pipeline operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    Kind   `json:"-"`
}

func ok(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

// failure builds a failed Result. Store not-found errors map to KindNotFound
// regardless of kind.
func failure(kind Kind, message string, err error) Result {
	res := Result{Message: message, Kind: kind}
	if err != nil {
		res.Error = err.Error()
		if errors.Is(err, crawler.ErrNotFound) {
			res.Kind = KindNotFound
		}
	} else {
		res.Error = message
	}
	return res
}
