package models

import (
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Identity represents the resolved caller of a request
type Identity struct {
	Registered bool
	Email      string
	Address    string
}

// Key returns the identifier the caller is metered under
func (i Identity) Key() string {
	if i.Registered && i.Email != "" {
		return i.Email
	}
	return i.Address
}

// CachedAnswer represents a stored answer for a normalized question
type CachedAnswer struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Hits      int64     `json:"hits"`
	CreatedAt time.Time `json:"created_at"`
	LastHitAt time.Time `json:"last_hit_at"`
}

// RateLimitDecision is the outcome of admission control for one request
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Completion is the provider's answer to a question
type Completion struct {
	Answer     string
	TokensUsed int
}

// ConversationSession groups one conversation's messages for a single owner
type ConversationSession struct {
	ID            int64     `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Title         string    `json:"title"`
	StartedAt     time.Time `json:"startedAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	MessageCount  int       `json:"messageCount"`
}

// ConversationMessage is a single appended exchange entry
type ConversationMessage struct {
	ID             int64     `json:"id"`
	SessionID      int64     `json:"sessionId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	TokensUsed     int       `json:"tokensUsed"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	WasCached      bool      `json:"wasCached"`
}

// MessageMeta carries the metadata recorded with an assistant message
type MessageMeta struct {
	TokensUsed     int
	ResponseTimeMs int64
	WasCached      bool
}

// AskRequest is the answer endpoint request body
type AskRequest struct {
	Message   string `json:"message"`
	SessionID int64  `json:"sessionId,omitempty"`
}

// AskResponse is the successful answer payload
type AskResponse struct {
	Success   bool        `json:"success"`
	Response  string      `json:"response"`
	QUsed     int64       `json:"qUsed"`
	Remaining interface{} `json:"remaining"`
	Cached    bool        `json:"cached"`
	SessionID int64       `json:"sessionId,omitempty"`
}

// SignupRequiredResponse is returned when the anonymous free quota is exhausted.
// It is an expected outcome, delivered with an HTTP success status.
type SignupRequiredResponse struct {
	Success    bool   `json:"success"`
	NeedSignup bool   `json:"needSignup"`
	Message    string `json:"message"`
	QUsed      int64  `json:"qUsed"`
	Remaining  int64  `json:"remaining"`
}

// ErrorResponse is a generic user-facing error payload
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RateLimitedResponse is the denial payload for rate-limited requests
type RateLimitedResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetAt   int64  `json:"resetAt"`
}
