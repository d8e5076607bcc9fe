package dispatch

import "net/http"

// Action determines how a queue entry is settled after a dispatch attempt.
type Action int

const (
	// ActionDone settles the entry as delivered.
	ActionDone Action = iota
	// ActionRetry leaves the entry queued for backoff.
	ActionRetry
	// ActionDrop settles the entry without delivery; retrying cannot help.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionDone:
		return "done"
	case ActionRetry:
		return "retry"
	case ActionDrop:
		return "drop"
	}
	return "unknown"
}

// ClassifyStatus maps an HTTP status to an action.
func ClassifyStatus(code int) Action {
	switch {
	case code >= 200 && code < 300:
		return ActionDone
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code >= 500:
		return ActionRetry
	}

	switch code {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusGone,
		http.StatusUnprocessableEntity:
		return ActionDrop
	}

	// Redirects and unlisted codes are not conclusive.
	return ActionRetry
}
