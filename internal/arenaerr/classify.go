// Package arenaerr maps internal sentinel errors onto client-facing domain
// errors with catalog messages.
package arenaerr

import (
	"errors"
	"net/http"

	"github.com/park285/threeslide-arena/internal/board"
	"github.com/park285/threeslide-arena/internal/identity"
	"github.com/park285/threeslide-arena/internal/matchmaking"
	"github.com/park285/threeslide-arena/internal/msgcat"
	"github.com/park285/threeslide-arena/internal/session"
	"github.com/park285/threeslide-arena/pkg/arenadto"
)

type rule struct {
	target    error
	code      string
	key       string
	fallback  string
	retryable bool
}

// first match wins; ErrSourceNotOwned precedes ErrInvalidMove which it wraps
var rules = []rule{
	{identity.ErrAuthentication, arenadto.CodeAuthentication, "error.invalid_token", "Token is not valid", false},
	{board.ErrNotYourTurn, arenadto.CodeNotYourTurn, "error.not_your_turn", "It is not your turn.", false},
	{board.ErrSourceNotOwned, arenadto.CodeInvalidMove, "error.own_piece", "Invalid move, you can only move your own piece.", false},
	{board.ErrInvalidMove, arenadto.CodeInvalidMove, "error.invalid_move", "Invalid move, try again.", false},
	{board.ErrGameOver, arenadto.CodeInvalidMove, "error.game_over", "The game is already over.", false},
	{session.ErrRoomNotFound, arenadto.CodeRoomNotFound, "error.room_not_found", "Room not found", false},
	{matchmaking.ErrAlreadyQueued, arenadto.CodeAlreadyWaiting, "error.already_waiting", "You are already waiting for an opponent.", false},
	{matchmaking.ErrAlreadySearching, arenadto.CodeAlreadyWaiting, "error.already_waiting", "You are already waiting for an opponent.", false},
	{matchmaking.ErrInvalidParty, arenadto.CodeBadRequest, "error.bad_request", "Malformed request", false},
	{session.ErrInvalidPair, arenadto.CodeBadRequest, "error.bad_request", "Malformed request", false},
	{identity.ErrUpstreamUnavailable, arenadto.CodeUpstreamUnavailable, "error.server", "Server error", true},
	{identity.ErrUnknownUser, arenadto.CodeInternal, "error.server", "Server error", false},
}

// Classify converts err into a DomainError. data feeds the message template;
// a template that cannot render falls back to the built-in text.
func Classify(err error, cat *msgcat.Catalog, data map[string]string) arenadto.DomainError {
	for _, r := range rules {
		if errors.Is(err, r.target) {
			return arenadto.DomainError{Code: r.code, Message: cat.Text(r.key, data, r.fallback), Retryable: r.retryable}
		}
	}
	var de arenadto.DomainError
	if errors.As(err, &de) {
		return de
	}
	return arenadto.DomainError{Code: arenadto.CodeInternal, Message: cat.Text("error.server", nil, "Server error"), Retryable: true}
}

// HTTPStatus is the REST status for code.
func HTTPStatus(code string) int {
	switch code {
	case arenadto.CodeAuthentication:
		return http.StatusUnauthorized
	case arenadto.CodeRoomNotFound, arenadto.CodeNotFound:
		return http.StatusNotFound
	case arenadto.CodeBadRequest:
		return http.StatusBadRequest
	case arenadto.CodeAlreadyWaiting, arenadto.CodeNotYourTurn, arenadto.CodeInvalidMove:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// SocketEvent is the outbound event type used for code: move rejections
// become invalidMove, everything else a generic error.
func SocketEvent(code string) string {
	switch code {
	case arenadto.CodeNotYourTurn, arenadto.CodeInvalidMove:
		return arenadto.TypeInvalidMove
	default:
		return arenadto.TypeError
	}
}
