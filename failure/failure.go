// Package failure defines the error kinds shared by every component.
//
// Components wrap one of the sentinels below so callers can decide, with
// errors.Is, whether to abort the session or skip-and-log:
//
//	ErrFatalSession      abort session start, persist nothing
//	ErrRecoverableAsset  skip the asset, continue with the rest
//	ErrTransientHandler  log with flow context, let the exchange complete
//	ErrPolicy            log, leave the host in its previous state
package failure

import (
	"errors"
	"fmt"
)

var (
	ErrFatalSession     = errors.New("fatal session error")
	ErrRecoverableAsset = errors.New("recoverable asset error")
	ErrTransientHandler = errors.New("transient handler error")
	ErrPolicy           = errors.New("policy error")
)

// Fatalf returns an error of kind ErrFatalSession.
func Fatalf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFatalSession, fmt.Sprintf(format, args...))
}

// Assetf returns an error of kind ErrRecoverableAsset.
func Assetf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrRecoverableAsset, fmt.Sprintf(format, args...))
}

// Handler wraps err as ErrTransientHandler, keeping err in the chain.
func Handler(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientHandler, err)
}

// Policy wraps err as ErrPolicy, keeping err in the chain.
func Policy(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPolicy, err)
}

// Kind returns the sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrFatalSession, ErrRecoverableAsset, ErrTransientHandler, ErrPolicy} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsFatal reports whether err must abort the session.
func IsFatal(err error) bool { return errors.Is(err, ErrFatalSession) }
