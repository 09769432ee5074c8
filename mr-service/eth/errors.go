package eth

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum"
)

// ErrRateLimited is returned for calls rejected locally because the active
// provider is inside a rate-limit backoff window. No network request is made.
var ErrRateLimited = errors.New("rate limit exceeded")

// MaybeAsNotFoundErr checks if the error is an ethereum.NotFound error
// or has an error string that heuristically indicates that it is this error.
// If so, it returns ethereum.NotFound, otherwise it returns the original error.
//
// Correct implementations of the execution layer API return an empty result
// and no error when a block or header is not found, but geth and erigon like
// to serve non-standard errors for the safe and finalized labels when the
// chain is young and nothing is marked finalized yet.
func MaybeAsNotFoundErr(err error) error {
	if errors.Is(err, ethereum.NotFound) || err == nil {
		return err
	}
	if errStr := strings.ToLower(err.Error()); strings.Contains(errStr, "block not found") ||
		strings.Contains(errStr, "header not found") ||
		strings.Contains(errStr, "unknown block") {
		return errors.Join(err, ethereum.NotFound)
	}
	return err
}
