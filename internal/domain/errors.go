package domain

import "errors"

// User-facing action errors. Every error returned by the mutation layer or the
// payment workflow wraps exactly one of these.
var (
	// ErrUnauthenticated is returned when an action requires a signed-in user.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when the user lacks the role for an action.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyApplied is returned for a duplicate like/watchlist insert. Benign.
	ErrAlreadyApplied = errors.New("already applied")

	// ErrActionFailed is returned when a write failed and local state was rolled back.
	ErrActionFailed = errors.New("action failed")

	// ErrWalletNotInstalled is returned when no wallet extension is available.
	ErrWalletNotInstalled = errors.New("wallet not installed")

	// ErrUserRejected is returned when the user declined a wallet prompt.
	ErrUserRejected = errors.New("user rejected the request")

	// ErrTransientNetwork is returned when retries of a network operation were exhausted.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrVerificationFailed is returned when the server could not confirm a payment.
	ErrVerificationFailed = errors.New("payment verification failed")
)

// RetriableError is implemented by errors that may succeed on retry.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable.
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related failure.
type NetworkError struct {
	Op        string // operation that failed, e.g. "getLatestBlockhash"
	Err       error
	Retriable bool
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a retriable network error.
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error.
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}
