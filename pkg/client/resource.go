package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"

	"github.com/replicate/rget/pkg/logging"
)

// Validator identifies one version of a remote resource.
type Validator struct {
	ETag         string
	LastModified string
}

func validatorFromHeaders(h http.Header) Validator {
	return Validator{
		ETag:         strings.TrimSpace(h.Get("ETag")),
		LastModified: strings.TrimSpace(h.Get("Last-Modified")),
	}
}

func (v Validator) IsZero() bool {
	return v.ETag == "" && v.LastModified == ""
}

// String is the token persisted in the sidecar: the ETag when there is one, otherwise the
// modification time, otherwise empty.
func (v Validator) String() string {
	switch {
	case v.ETag != "":
		return v.ETag
	case v.LastModified != "":
		return "last-modified:" + v.LastModified
	default:
		return ""
	}
}

// Conflicts reports whether o provably describes a different version than v. Missing
// fields on either side never conflict.
func (v Validator) Conflicts(o Validator) bool {
	if v.ETag != "" && o.ETag != "" {
		return opaqueTag(v.ETag) != opaqueTag(o.ETag)
	}
	if v.LastModified != "" && o.LastModified != "" {
		return v.LastModified != o.LastModified
	}
	return false
}

func opaqueTag(etag string) string {
	return strings.TrimPrefix(etag, "W/")
}

// Resource describes the remote file as seen by the first request of a run.
type Resource struct {
	// URL is the location after redirects; range requests go straight to it.
	URL          string
	Size         int64 // -1 when unknown
	AcceptRanges bool
	Validator    Validator
	Digest       *Digest
	ContentType  string
}

func (r *Resource) SizeKnown() bool {
	return r.Size >= 0
}

// Probe resolves the resource descriptor. HEAD is tried first; servers that refuse HEAD or
// answer it without a length or range support are asked again with a one byte range.
func (c *Client) Probe(ctx context.Context, url string) (*Resource, error) {
	logger := logging.GetLogger()

	res, err := c.head(ctx, url)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) || !headUnsupported(te.StatusCode) {
			return nil, err
		}
		logger.Debug().Str("url", url).Int("status", te.StatusCode).Msg("HEAD refused, probing with range request")
	} else if res.SizeKnown() && res.AcceptRanges {
		return res, nil
	}

	probeURL := url
	if res != nil {
		probeURL = res.URL
	}
	ranged, err := c.probeRange(ctx, probeURL)
	if err != nil {
		if res == nil || ctx.Err() != nil {
			return nil, err
		}
		logger.Debug().Err(err).Str("url", url).Msg("Range probe failed, using HEAD response")
		return res, nil
	}
	if res != nil {
		if !ranged.SizeKnown() {
			ranged.Size = res.Size
		}
		if ranged.Validator.IsZero() {
			ranged.Validator = res.Validator
		}
		if ranged.Digest == nil {
			ranged.Digest = res.Digest
		}
		if ranged.ContentType == "" {
			ranged.ContentType = res.ContentType
		}
	}
	return ranged, nil
}

// headUnsupported covers servers (and presigned URLs) that only answer GET.
func headUnsupported(code int) bool {
	return code == http.StatusForbidden || code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented
}

func (c *Client) head(ctx context.Context, url string) (*Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		return nil, probeError(ctx, http.MethodHead, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(http.MethodHead, url, resp.StatusCode)
	}
	return &Resource{
		URL:          finalURL(resp, url),
		Size:         resp.ContentLength,
		AcceptRanges: strings.EqualFold(strings.TrimSpace(resp.Header.Get("Accept-Ranges")), "bytes"),
		Validator:    validatorFromHeaders(resp.Header),
		Digest:       digestFromHeaders(resp.Header, false),
		ContentType:  resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) probeRange(ctx context.Context, url string) (*Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := c.probe.Do(req)
	if err != nil {
		return nil, probeError(ctx, http.MethodGet, url, err)
	}
	// the body of a 200 may be the whole file; closing without draining drops the connection
	defer resp.Body.Close()

	res := &Resource{
		URL:       finalURL(resp, url),
		Size:        -1,
		Validator:   validatorFromHeaders(resp.Header),
		ContentType: resp.Header.Get("Content-Type"),
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, &TransportError{Op: http.MethodGet, URL: url, StatusCode: resp.StatusCode, Err: err}
		}
		res.Size = cr.total
		res.AcceptRanges = true
		res.Digest = digestFromHeaders(resp.Header, true)
	case http.StatusRequestedRangeNotSatisfiable:
		// the only way bytes=0-0 is unsatisfiable is an empty resource
		cr, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || cr.total < 0 {
			return nil, statusError(http.MethodGet, url, resp.StatusCode)
		}
		res.Size = cr.total
		res.AcceptRanges = true
	case http.StatusOK:
		res.Size = resp.ContentLength
		res.Digest = digestFromHeaders(resp.Header, false)
	default:
		return nil, statusError(http.MethodGet, url, resp.StatusCode)
	}
	return res, nil
}

// probeError reports an attempt that outlived the client timeout as ErrIdleTimeout.
func probeError(ctx context.Context, op, url string, err error) error {
	var urlErr *neturl.Error
	if ctx.Err() == nil && errors.As(err, &urlErr) && urlErr.Timeout() {
		err = ErrIdleTimeout
	}
	return requestError(ctx, op, url, err)
}

func finalURL(resp *http.Response, fallback string) string {
	if resp.Request == nil || resp.Request.URL == nil {
		return fallback
	}
	trueURL := resp.Request.URL.String()
	if trueURL != fallback {
		logger := logging.GetLogger()
		logger.Info().Str("url", fallback).Str("redirect_url", trueURL).Msg("Redirect")
	}
	return trueURL
}
