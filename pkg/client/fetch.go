package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
)

var contentRangeRegexp = regexp.MustCompile(`^bytes (?:([0-9]+)-([0-9]+)|\*)/([0-9]+|\*)$`)

type contentRange struct {
	start, end int64 // -1 for an unsatisfied range (bytes */total)
	total      int64 // -1 when the server does not know
}

func parseContentRange(header string) (contentRange, error) {
	groups := contentRangeRegexp.FindStringSubmatch(header)
	if groups == nil {
		return contentRange{}, fmt.Errorf("%w: Content-Range %q", ErrMalformedResponse, header)
	}
	cr := contentRange{start: -1, end: -1, total: -1}
	if groups[1] != "" {
		cr.start, _ = strconv.ParseInt(groups[1], 10, 64)
		cr.end, _ = strconv.ParseInt(groups[2], 10, 64)
		if cr.end < cr.start {
			return contentRange{}, fmt.Errorf("%w: Content-Range %q", ErrMalformedResponse, header)
		}
	}
	if groups[3] != "*" {
		total, err := strconv.ParseInt(groups[3], 10, 64)
		if err != nil {
			return contentRange{}, fmt.Errorf("%w: Content-Range %q", ErrMalformedResponse, header)
		}
		cr.total = total
	}
	return cr, nil
}

// rangeHeader returns the Range value for [start, end]; end < 0 leaves the range open.
// A request for the whole resource carries no Range header at all.
func rangeHeader(start, end int64) string {
	switch {
	case start == 0 && end < 0:
		return ""
	case end < 0:
		return fmt.Sprintf("bytes=%d-", start)
	default:
		return fmt.Sprintf("bytes=%d-%d", start, end)
	}
}

// RangeResponse is the streaming answer to FetchRange.
type RangeResponse struct {
	Body io.ReadCloser
	// Partial is false when the server ignored the range and sent the whole resource.
	Partial bool
	// Start is the resource offset of the first body byte.
	Start int64
	// Length is the number of body bytes, -1 if unknown.
	Length int64
	// Total is the resource size the server reported, -1 if unknown.
	Total     int64
	Validator Validator
}

// FetchRange issues a single ranged GET for [start, end] (end < 0 for open ended). Errors
// reading the returned body are TransportErrors classified like request errors.
func (c *Client) FetchRange(ctx context.Context, url string, start, end int64) (*RangeResponse, error) {
	reqCtx, timer, expired, cancel := withIdleTimeout(ctx, c.opts.IdleTimeout)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	if value := rangeHeader(start, end); value != "" {
		req.Header.Set("Range", value)
	}

	resp, err := c.fetch.Do(req)
	if err != nil {
		timer.Stop()
		cancel()
		if expired.Load() {
			err = ErrIdleTimeout
		}
		return nil, requestError(ctx, http.MethodGet, url, err)
	}

	body := &idleTimeoutReader{
		ctx:     ctx,
		url:     url,
		body:    resp.Body,
		timer:   timer,
		timeout: c.opts.IdleTimeout,
		expired: expired,
		cancel:  cancel,
	}
	rr := &RangeResponse{Validator: validatorFromHeaders(resp.Header)}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err == nil && cr.start != start {
			err = fmt.Errorf("%w: requested offset %d, server sent %d", ErrMalformedResponse, start, cr.start)
		}
		if err != nil {
			body.Close()
			return nil, &TransportError{Op: http.MethodGet, URL: url, StatusCode: resp.StatusCode, Err: err}
		}
		rr.Partial = true
		rr.Start = cr.start
		rr.Length = cr.end - cr.start + 1
		rr.Total = cr.total
	case http.StatusOK:
		rr.Length = resp.ContentLength
		rr.Total = resp.ContentLength
	default:
		body.Close()
		return nil, statusError(http.MethodGet, url, resp.StatusCode)
	}

	rr.Body = body
	if c.limiter != nil {
		rr.Body = &rateLimitedReader{ctx: ctx, body: body, limiter: c.limiter}
	}
	return rr, nil
}
