package types

import "net/http"

// SendStatus is the terminal outcome reported to a MessageRequest observer.
type SendStatus string

// Send status constants.
const (
	// SendStatusPending is the zero value before a request completes.
	SendStatusPending SendStatus = "pending"
	// SendStatusSuccess means the service answered 200.
	SendStatusSuccess SendStatus = "success"
	// SendStatusSuccessNoContent means the service answered 204.
	SendStatusSuccessNoContent SendStatus = "success_no_content"
	// SendStatusNotConnected means the request never reached the service.
	SendStatusNotConnected SendStatus = "not_connected"
	// SendStatusTimedout means the stream made no progress within the deadline.
	SendStatusTimedout SendStatus = "timedout"
	// SendStatusInternalError means the transfer failed below HTTP.
	SendStatusInternalError SendStatus = "internal_error"
	// SendStatusBadRequest means the service answered 400.
	SendStatusBadRequest SendStatus = "bad_request"
	// SendStatusInvalidAuth means the service rejected the bearer token.
	SendStatusInvalidAuth SendStatus = "invalid_auth"
	// SendStatusServerInternalError means the service answered 500.
	SendStatusServerInternalError SendStatus = "server_internal_error"
	// SendStatusServerOtherError covers every other HTTP status.
	SendStatusServerOtherError SendStatus = "server_other_error"
)

// IsSuccess reports whether the status represents a delivered request.
func (s SendStatus) IsSuccess() bool {
	return s == SendStatusSuccess || s == SendStatusSuccessNoContent
}

// SendStatusFromHTTP maps a response code to a SendStatus.
// A code of 0 means no response was received.
func SendStatusFromHTTP(code int) SendStatus {
	switch code {
	case 0:
		return SendStatusInternalError
	case http.StatusOK:
		return SendStatusSuccess
	case http.StatusNoContent:
		return SendStatusSuccessNoContent
	case http.StatusBadRequest:
		return SendStatusBadRequest
	case http.StatusForbidden:
		return SendStatusInvalidAuth
	case http.StatusInternalServerError:
		return SendStatusServerInternalError
	default:
		return SendStatusServerOtherError
	}
}

// ConnectionStatus is the state of the session's connection to the service.
type ConnectionStatus string

// Connection status constants.
const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionPending      ConnectionStatus = "pending"
	ConnectionConnected    ConnectionStatus = "connected"
)

// ChangedReason explains a connection status transition.
type ChangedReason string

// Changed reason constants.
const (
	ReasonNone                 ChangedReason = "none"
	ReasonSuccess              ChangedReason = "success"
	ReasonACLClientRequest     ChangedReason = "client_request"
	ReasonServerSideDisconnect ChangedReason = "server_side_disconnect"
	ReasonInvalidAuth          ChangedReason = "invalid_auth"
	ReasonInternalError        ChangedReason = "internal_error"
)
