package arenadto

// Error codes surfaced to clients.
const (
	CodeAuthentication      = "authentication_failure"
	CodeNotYourTurn         = "not_your_turn"
	CodeInvalidMove         = "invalid_move"
	CodeRoomNotFound        = "room_not_found"
	CodePersistence         = "persistence_failure"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeBadRequest          = "bad_request"
	CodeAlreadyWaiting      = "already_waiting"
	CodeNotFound            = "not_found"
	CodeInternal            = "internal"
)

type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "arena error"
}

// Body renders e as the JSON error body.
func (e DomainError) Body() Message {
	return Message{Message: e.Error(), Code: e.Code}
}
