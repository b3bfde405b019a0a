package extractor

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"syscall"

	"github.com/andybalholm/brotli"
)

const readChunkSize = 32 * 1024

// FetchResult is the outcome of a successful bounded retrieval. Body never exceeds the
// policy's MaxBytes; an oversized response is an error, not a truncated result.
type FetchResult struct {
	Status      int
	ContentType string
	Body        []byte
}

// Fetcher performs a single bounded GET per call.
type Fetcher struct {
	policy    Policy
	validator *Validator
	client    *http.Client
}

func NewFetcher(policy Policy) *Fetcher {
	policy = policy.withDefaults()
	f := &Fetcher{
		policy:    policy,
		validator: NewValidator(policy),
	}
	f.client = &http.Client{
		Transport:     buildTransport(policy),
		CheckRedirect: f.checkRedirect,
	}
	return f
}

func buildTransport(policy Policy) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{
		Timeout:   policy.Timeout,
		KeepAlive: -1,
	}
	if policy.DialGuard {
		dialer.Control = dialGuard(policy)
	}
	// A proxy would make the guard check the proxy address instead of the target.
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	transport.DisableKeepAlives = true
	transport.DisableCompression = true
	transport.MaxResponseHeaderBytes = 64 << 10
	transport.ResponseHeaderTimeout = policy.Timeout
	return transport
}

// dialGuard rejects connections whose resolved address falls into a blocked range.
func dialGuard(policy Policy) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, _ syscall.RawConn) error {
		addrPort, err := netip.ParseAddrPort(address)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
		}
		if reason, blocked := policy.blockedAddr(addrPort.Addr()); blocked {
			return fmt.Errorf("%w: %s (%s)", ErrBlockedAddress, addrPort.Addr(), reason)
		}
		return nil
	}
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > f.policy.MaxRedirects {
		return fmt.Errorf("%w: stopped after %d redirects", ErrUpstreamUnreachable, f.policy.MaxRedirects)
	}
	target := req.URL.String()
	return f.validator.Validate(target).Err(target)
}

// Fetch retrieves rawURL within the policy's time and byte budgets. The URL must already have
// passed the Validator; redirect targets are validated here.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.policy.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", f.policy.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.1")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return nil, fmt.Errorf("%w: %q", ErrNotHTML, contentType)
	}
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if (encoding == "" || encoding == "identity") && resp.ContentLength > f.policy.MaxBytes {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrPayloadTooLarge, resp.ContentLength)
	}

	reader, err := decodeBody(resp.Body, encoding)
	if err != nil {
		return nil, classifyError(ctx, err)
	}
	defer reader.Close()

	body, err := readBounded(reader, f.policy.MaxBytes)
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			return nil, err
		}
		return nil, classifyError(ctx, err)
	}

	return &FetchResult{
		Status:      resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}

// readBounded accumulates r until EOF. Crossing limit aborts the read and drops what was read.
func readBounded(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if int64(buf.Len()+n) > limit {
				return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, limit)
			}
			buf.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func decodeBody(body io.ReadCloser, encoding string) (io.ReadCloser, error) {
	switch encoding {
	case "", "identity":
		return io.NopCloser(body), nil
	case "gzip", "x-gzip":
		return gzip.NewReader(body)
	case "deflate":
		return zlib.NewReader(body)
	case "br":
		return io.NopCloser(brotli.NewReader(body)), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func classifyError(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUpstreamUnreachable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrUpstreamUnreachable, err)
	}
}
