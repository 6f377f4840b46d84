package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	ErrInvalidPlugin      = fmt.Errorf("invalid plugin descriptor")
	ErrDuplicateNamespace = fmt.Errorf("plugin namespace already registered")
	ErrConstruction       = fmt.Errorf("entity construction failed")
	ErrNilPayload         = fmt.Errorf("middleware stage produced no payload")

	ErrAlreadyIdentified = fmt.Errorf("engine already identified")
	ErrNotIdentified     = fmt.Errorf("engine not identified")
	ErrEngineClosed      = fmt.Errorf("engine closed")
	ErrChatNotStarted    = fmt.Errorf("chat not started")

	ErrTransportClosed = fmt.Errorf("transport closed")
	ErrNotConnected    = fmt.Errorf("transport not connected")
	ErrUnknownSession  = fmt.Errorf("unknown hub session")
	ErrRemote          = fmt.Errorf("relay rejected request")

	ErrForbiddenMime = fmt.Errorf("attachment type not allowed")
	ErrEmptyContent  = fmt.Errorf("attachment has no content")
)
