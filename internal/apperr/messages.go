package apperr

// userMessages maps machine-readable codes to copy shown to the user
// after a failed sync. Unrecognized codes fall back to a generic line.
var userMessages = map[string]string{
	CodeInvalidRequest:     "The server rejected the request as invalid.",
	CodeInvalidCredentials: "Your session has expired. Please log in again.",
	CodeForbidden:          "You don't have permission to do that.",
	CodeNotFound:           "That item no longer exists on the server.",
	CodeConflict:           "Someone else changed that item. Please refresh and retry.",
	CodeRateLimited:        "Too many requests. Please try again shortly.",
	CodeInternal:           "The server hit an internal error. Please try again later.",
}

const genericMessage = "Something went wrong. Please try again."

// UserMessage returns the user-facing line for a classified failure.
func UserMessage(err *Error) string {
	if err == nil {
		return ""
	}
	switch err.Kind {
	case KindNoNetwork:
		return "No network connection. Your changes are saved and will sync later."
	case KindTimeout:
		return "The server took too long to respond. Your changes will sync later."
	case KindServer:
		if msg, ok := userMessages[err.Code]; ok {
			return msg
		}
		// Server codes we don't recognize (e.g. "BENCH_NOT_FOUND") fall
		// back to the status-derived category before going generic.
		if msg, ok := userMessages[CodeForStatus(err.Status)]; ok {
			return msg
		}
		return genericMessage
	default:
		return genericMessage
	}
}
