package cli

import (
	"context"
	"errors"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/download"
)

const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitNetwork     = 3
	ExitIntegrity   = 4
	ExitStorage     = 5
	ExitInterrupted = 130
)

// ExitCode maps the outcome of a run to the process exit status.
func ExitCode(err error) int {
	var (
		storageErr   *download.StorageError
		integrityErr *download.IntegrityError
		transportErr *client.TransportError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &storageErr):
		return ExitStorage
	case errors.As(err, &integrityErr):
		return ExitIntegrity
	case errors.As(err, &transportErr),
		errors.Is(err, client.ErrResourceChanged),
		errors.Is(err, download.ErrRangeIgnored):
		return ExitNetwork
	default:
		return ExitFailure
	}
}
