package orchestrator

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/BaSui01/mediaflow/media/relocation"
	"github.com/BaSui01/mediaflow/types"
)

// TransientErrorClassifier decides which poll failures are reported to the
// caller as "processing" instead of an error.
type TransientErrorClassifier interface {
	IsTransient(err error) bool
}

// ClassifierFunc adapts a function to TransientErrorClassifier.
type ClassifierFunc func(err error) bool

// IsTransient implements TransientErrorClassifier.
func (f ClassifierFunc) IsTransient(err error) bool { return f(err) }

// DefaultClassifier treats timeouts, transport failures, retryable
// structured errors and in-flight relocations as transient.
type DefaultClassifier struct{}

// IsTransient implements TransientErrorClassifier.
func (DefaultClassifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, relocation.ErrInProgress) {
		return true
	}
	if e, ok := types.AsError(err); ok {
		return e.Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
