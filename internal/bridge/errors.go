package bridge

import "fmt"

const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInvalidCredential   = "INVALID_CREDENTIAL"
	CodeSignInFailed        = "SIGN_IN_FAILED"
	CodeSignOutFailed       = "SIGN_OUT_FAILED"
	CodePlaybackUnavailable = "PLAYBACK_UNAVAILABLE"
	CodeQueueEmpty          = "QUEUE_EMPTY"
	CodeItemNotFound        = "ITEM_NOT_FOUND"
	CodeUnsupported         = "UNSUPPORTED"
)

// CommandError is the failure reported back to the peer in a RESPONSE.
type CommandError struct {
	Code    string
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return e.Code
	}
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// peerMessage is the text sent on the wire for e.
func (e *CommandError) peerMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func commandError(code, message string, err error) *CommandError {
	return &CommandError{Code: code, Message: message, Err: err}
}
