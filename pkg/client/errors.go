package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

var (
	// ErrRangeNotSatisfiable means the server rejected a range that local progress says is
	// valid, so the local state no longer describes the remote resource.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	// ErrResourceChanged means a response carried a validator different from the one the
	// transfer started with.
	ErrResourceChanged = errors.New("remote resource changed")
	// ErrIdleTimeout is reported when no bytes arrive within the idle timeout.
	ErrIdleTimeout       = errors.New("idle timeout waiting for data")
	ErrMalformedResponse = errors.New("malformed response")

	errTooManyRedirects = errors.New("stopped after 10 redirects")
)

// TransportError is any failure talking to the remote server.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Retryable  bool
	Err        error
}

var _ error = &TransportError{}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.URL)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

// IsStale reports whether err means the local progress no longer matches the server.
func IsStale(err error) bool {
	return errors.Is(err, ErrRangeNotSatisfiable) || errors.Is(err, ErrResourceChanged)
}

// RetryPolicy decides whether a metadata request is retried. Context errors are returned
// as is so cancellation is never mistaken for a network failure.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		if !retryableError(err) {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return retryableStatus(resp.StatusCode), nil
}

// retryableStatus: 5xx is transient, 4xx is not. 416 never gets here, it means stale state.
func retryableStatus(code int) bool {
	return code == 0 || code >= 500
}

// retryableError singles out failures that will not go away by trying again.
func retryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, errTooManyRedirects) {
		return false
	}
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalidCert      x509.CertificateInvalidError
		hostnameErr      x509.HostnameError
		verifyErr        *tls.CertificateVerificationError
		recordHeaderErr  tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &unknownAuthority),
		errors.As(err, &invalidCert),
		errors.As(err, &hostnameErr),
		errors.As(err, &verifyErr),
		errors.As(err, &recordHeaderErr):
		return false
	}
	return true
}

// statusError converts an unexpected status into a TransportError.
func statusError(op, url string, code int) error {
	if code == http.StatusRequestedRangeNotSatisfiable {
		return &TransportError{Op: op, URL: url, StatusCode: code, Err: ErrRangeNotSatisfiable}
	}
	return &TransportError{Op: op, URL: url, StatusCode: code, Retryable: retryableStatus(code)}
}

// requestError converts an error from http.Client.Do or a body read. Cancellation of the
// caller's context is passed through untouched.
func requestError(ctx context.Context, op, url string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrIdleTimeout) {
		return &TransportError{Op: op, URL: url, Retryable: true, Err: ErrIdleTimeout}
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &TransportError{Op: op, URL: url, Retryable: retryableError(err), Err: err}
}
