package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds carried across the worker boundary. The wire form of an error
// is the string "Name: message", the same shape a JS Error stringifies to,
// so the kind survives as a prefix while the channel stays text-only.
const (
	KindError         = "Error"
	KindUnknownMethod = "UnknownMethodError"
	KindDataClone     = "DataCloneError"
	KindProtocol      = "ProtocolError"
	KindPanic         = "PanicError"
	KindTimeout       = "TimeoutError"
)

// Sentinels for errors.Is against errors received from a worker.
var (
	ErrRemote        = &RemoteError{Name: KindError}
	ErrUnknownMethod = &RemoteError{Name: KindUnknownMethod}
	ErrDataClone     = &RemoteError{Name: KindDataClone}
	ErrProtocol      = &RemoteError{Name: KindProtocol}
	ErrPanic         = &RemoteError{Name: KindPanic}
	ErrTimeout       = &RemoteError{Name: KindTimeout}
)

// Host-side failures.
var (
	ErrNotStarted  = errors.New("worker not started")
	ErrUnknownURL  = errors.New("no worker registered for url")
	ErrPortClosed  = errors.New("port closed")
	ErrMessageSize = errors.New("message exceeds size limit")
)

// RemoteError is an error reported by a worker method, rebuilt from its
// string form on the receiving side.
type RemoteError struct {
	Name    string
	Message string
}

// NewRemoteError builds a RemoteError of the given kind.
func NewRemoteError(name, format string, args ...any) *RemoteError {
	return &RemoteError{Name: name, Message: fmt.Sprintf(format, args...)}
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// ErrorName reports the kind of the error.
func (e *RemoteError) ErrorName() string { return e.Name }

// Is matches a sentinel RemoteError (one with no message) by kind.
func (e *RemoteError) Is(target error) bool {
	t, ok := target.(*RemoteError)
	if !ok || t.Message != "" {
		return false
	}
	return t.Name == e.Name
}

// FormatError converts err to the text sent across the boundary. Errors
// exposing ErrorName keep their kind; everything else becomes a plain Error.
// A non-nil error never formats to "", which would read as success.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	if s := formatError(err); s != "" {
		return s
	}
	return KindError
}

func formatError(err error) string {
	if re, ok := err.(*RemoteError); ok {
		return re.Error()
	}
	var named interface{ ErrorName() string }
	if errors.As(err, &named) {
		name := named.ErrorName()
		msg := err.Error()
		if strings.HasPrefix(msg, name+": ") || msg == name {
			return msg
		}
		return name + ": " + msg
	}
	return KindError + ": " + err.Error()
}

// ParseRemoteError rebuilds a RemoteError from its wire form. Strings without
// a recognizable "Name: " prefix become a plain Error carrying the full text.
func ParseRemoteError(s string) *RemoteError {
	name, msg, ok := strings.Cut(s, ": ")
	if ok && isErrorName(name) {
		return &RemoteError{Name: name, Message: msg}
	}
	if isErrorName(s) {
		return &RemoteError{Name: s}
	}
	return &RemoteError{Name: KindError, Message: s}
}

func isErrorName(s string) bool {
	if s == "" || !strings.HasSuffix(s, KindError) {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r == '_', r == '$':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
