package bridge

import (
	"errors"
	"fmt"

	"github.com/snowmerak/engage.go/lib/channel"
)

// Error codes reported to the host. The three classes never overlap.
const (
	ErrorCodeNoApplication = "100"
	ErrorCodeArgument      = "200"
	ErrorCodeException     = channel.InternalErrorCode
)

// ErrMissingArgument is wrapped by ArgumentError when a required key is absent.
var ErrMissingArgument = errors.New("missing required argument")

// ArgumentError reports an argument the handler could not translate.
type ArgumentError struct {
	Argument string
	Err      error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %v", e.Argument, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

func argumentError(name string, err error) error {
	return &ArgumentError{Argument: name, Err: err}
}

func argumentFailure(method string, err error) channel.Result {
	var details map[string]any
	var ae *ArgumentError
	if errors.As(err, &ae) {
		details = map[string]any{"argument": ae.Argument}
	}
	return channel.Failure(ErrorCodeArgument, fmt.Sprintf("%s: %v", method, err), details)
}

func noApplication(method string) channel.Result {
	return channel.Failure(ErrorCodeNoApplication, fmt.Sprintf("unable to %s: no application attached", method), nil)
}
