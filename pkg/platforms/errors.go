package platforms

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	NotFound             Kind = "NotFound"
	AmbiguousContainer   Kind = "AmbiguousContainer"
	ContainerNotRunning  Kind = "ContainerNotRunning"
	NoAgentOnNode        Kind = "NoAgentOnNode"
	MultipleAgentsOnNode Kind = "MultipleAgentsOnNode"
	AgentBusy            Kind = "AgentBusy"
	AgentQueryFailed     Kind = "AgentQueryFailed"
	CaptureFailed        Kind = "CaptureFailed"
	CompressionFailed    Kind = "CompressionFailed"
	TransferFailed       Kind = "TransferFailed"
	CleanupFailed        Kind = "CleanupFailed"
	Aborted              Kind = "Aborted"
)

// Class groups kinds the way they are reported to the operator.
func (k Kind) Class() string {
	switch k {
	case NotFound, AmbiguousContainer, ContainerNotRunning, NoAgentOnNode, MultipleAgentsOnNode, AgentBusy:
		return "ResolutionError"
	case CaptureFailed, CompressionFailed:
		return "CaptureFailed"
	default:
		return string(k)
	}
}

// Error is a pipeline failure. When it wraps a collaborator error the
// collaborator's text is returned unmodified.
type Error struct {
	Kind    Kind
	Subject string
	cause   error
}

func NewError(kind Kind, subject string) *Error {
	return &Error{Kind: kind, Subject: subject}
}

func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Subject: fmt.Sprintf(format, args...)}
}

// WrapError tags err with kind. A nil err yields nil.
func WrapError(kind Kind, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Subject: subject, cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Subject)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
