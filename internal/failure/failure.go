// Package failure classifies assistant request errors and decides how
// the caller should recover from them.
//
// Classification is a case-insensitive substring match over the error
// text, evaluated against an ordered rule table where the first match
// wins. The recovery policy is keyed on the resulting category; only
// rate limits are retried in-process, every other category hands a
// recovery action back to the caller.
package failure

import (
	"errors"
	"strings"
)

// Category is the user-facing error taxonomy.
type Category string

const (
	RateLimit       Category = "rate_limit"
	ToolFailure     Category = "tool_failure"
	ContextTooLarge Category = "context_too_large"
	Authentication  Category = "authentication"
	Unknown         Category = "unknown"
)

// Categories lists every category in classification priority order,
// with Unknown last.
var Categories = []Category{RateLimit, ToolFailure, ContextTooLarge, Authentication, Unknown}

// Rule maps a set of lower-case substrings to a category.
type Rule struct {
	Category Category
	Needles  []string
}

var rules = []Rule{
	{Category: RateLimit, Needles: []string{"rate limit", "rate_limit", "too many requests", "429"}},
	{Category: ToolFailure, Needles: []string{"tool", "composio", "integration", "execute"}},
	{Category: ContextTooLarge, Needles: []string{"context", "token", "length", "too long"}},
	{Category: Authentication, Needles: []string{"auth", "unauthorized", "reconnect", "credentials"}},
}

// Rules returns a copy of the classification table in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = Rule{Category: r.Category, Needles: append([]string(nil), r.Needles...)}
	}
	return out
}

// Categorize maps err to exactly one category. A nil error, or one
// whose text matches no rule, is Unknown.
func Categorize(err error) Category {
	if err == nil {
		return Unknown
	}
	return CategorizeMessage(err.Error())
}

// CategorizeMessage classifies raw error text.
func CategorizeMessage(msg string) Category {
	msg = strings.ToLower(msg)
	for _, r := range rules {
		for _, n := range r.Needles {
			if strings.Contains(msg, n) {
				return r.Category
			}
		}
	}
	return Unknown
}

// User-facing sentences. None of them echo the underlying error.
const (
	msgRateLimit       = "The assistant is receiving too many requests right now. Please wait a moment and try again."
	msgToolFailure     = "One of the connected integrations failed to respond. Try asking again using only your workspace data."
	msgContextTooLarge = "This conversation is too long for the assistant to process. Please shorten your message or start a new chat."
	msgAuthentication  = "An integration needs to be reconnected. Please reconnect it in your workspace settings and try again."
	msgUnknown         = "Something went wrong while processing your request. Please try again."

	msgRetrying    = "The assistant is busy. Retrying your request..."
	msgServiceBusy = "The assistant service is busy. Please try again in a few minutes."
)

// MissingContextMessage is returned when a request's workspace or user
// cannot be resolved.
const MissingContextMessage = "Missing workspace or user context. Please reopen the conversation from your workspace and try again."

// ErrMissingContext reports that the workspace or user for a request
// could not be resolved by any path. It is a caller-input error and is
// never retried.
var ErrMissingContext = errors.New("missing workspace or user context")

// FormatUserFacing returns the fixed, user-safe sentence for err's
// category.
func FormatUserFacing(err error) string {
	if errors.Is(err, ErrMissingContext) {
		return MissingContextMessage
	}
	return MessageFor(Categorize(err))
}

// MessageFor returns the user-safe sentence for a category.
func MessageFor(c Category) string {
	switch c {
	case RateLimit:
		return msgRateLimit
	case ToolFailure:
		return msgToolFailure
	case ContextTooLarge:
		return msgContextTooLarge
	case Authentication:
		return msgAuthentication
	default:
		return msgUnknown
	}
}
