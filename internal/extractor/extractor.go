package extractor

import (
	"context"
	"errors"
	"log/slog"
	netUrl "net/url"
	"strings"
	"time"
)

// Result is the value produced by one extraction and the field it came from.
type Result struct {
	Value  string    `json:"value"`
	Source FieldKind `json:"source"`
}

// Extractor derives a title and a preview image from untrusted page URLs.
// It is safe for concurrent use: calls share nothing but the immutable Policy.
type Extractor struct {
	policy    Policy
	validator *Validator
	fetcher   *Fetcher
	log       *slog.Logger
}

func New(policy Policy, log *slog.Logger) *Extractor {
	policy = policy.withDefaults()
	return &Extractor{
		policy:    policy,
		validator: NewValidator(policy),
		fetcher:   NewFetcher(policy),
		log:       log,
	}
}

// Policy returns a copy of the policy the Extractor was built with.
func (e *Extractor) Policy() Policy {
	return e.policy
}

// ExtractPreviewImage is best effort: it returns nil on any failure and only logs the cause.
func (e *Extractor) ExtractPreviewImage(ctx context.Context, rawURL string) *Result {
	startTime := time.Now()
	result, err := e.previewImage(ctx, rawURL)
	if err != nil {
		e.log.Debug("no preview image.", slog.String("url", rawURL), slog.String("kind", string(KindOf(err))),
			slog.String("err", err.Error()))
		return nil
	}
	e.log.Debug("preview image extracted.", slog.String("url", rawURL), slog.String("source", string(result.Source)),
		slog.Int64("took_ms", time.Since(startTime).Milliseconds()))

	return result
}

func (e *Extractor) previewImage(ctx context.Context, rawURL string) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	page, err := e.load(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return e.imageFrom(page, rawURL)
}

func (e *Extractor) imageFrom(page *FetchResult, rawURL string) (*Result, error) {
	field, ok := ExtractField(string(page.Body), ImageCandidates)
	if !ok {
		return nil, ErrNoMatch
	}
	resolved, ok := ResolveImageURL(rawURL, field.Value)
	if !ok {
		return nil, ErrNoMatch
	}
	// the page controls this value, so it is untrusted input again
	if err := e.validator.Validate(resolved).Err(resolved); err != nil {
		return nil, err
	}

	return &Result{Value: resolved, Source: field.Kind}, nil
}

// ExtractTitle returns the page title. A page without a usable title, or one answering with a
// non-2xx status, yields the URL's hostname instead of an error.
func (e *Extractor) ExtractTitle(ctx context.Context, rawURL string) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	page, err := e.load(ctx, rawURL)
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		e.log.Debug("upstream status, using hostname as title.", slog.String("url", rawURL),
			slog.Int("status", statusErr.Code))
		return e.hostnameTitle(rawURL)
	case err != nil:
		e.log.Debug("title extraction failed.", slog.String("url", rawURL), slog.String("kind", string(KindOf(err))),
			slog.String("err", err.Error()))
		return nil, err
	}

	return e.titleFrom(page, rawURL)
}

// Metadata is the title and preview image read from a single fetch of one page.
type Metadata struct {
	Title *Result
	Image *Result
}

// ExtractMetadata fetches rawURL once and runs both candidate chains over the same body.
// Title and error semantics match ExtractTitle; Image is nil when the page has no usable image.
func (e *Extractor) ExtractMetadata(ctx context.Context, rawURL string) (*Metadata, error) {
	startTime := time.Now()
	rawURL = strings.TrimSpace(rawURL)
	page, err := e.load(ctx, rawURL)
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		e.log.Debug("upstream status, using hostname as title.", slog.String("url", rawURL),
			slog.Int("status", statusErr.Code))
		title, err := e.hostnameTitle(rawURL)
		if err != nil {
			return nil, err
		}
		return &Metadata{Title: title}, nil
	case err != nil:
		e.log.Debug("metadata extraction failed.", slog.String("url", rawURL), slog.String("kind", string(KindOf(err))),
			slog.String("err", err.Error()))
		return nil, err
	}

	title, err := e.titleFrom(page, rawURL)
	if err != nil {
		return nil, err
	}
	md := &Metadata{Title: title}
	if image, err := e.imageFrom(page, rawURL); err == nil {
		md.Image = image
	} else {
		e.log.Debug("no preview image.", slog.String("url", rawURL), slog.String("err", err.Error()))
	}
	e.log.Debug("metadata extracted.", slog.String("url", rawURL), slog.String("title_source", string(title.Source)),
		slog.Bool("has_image", md.Image != nil), slog.Int64("took_ms", time.Since(startTime).Milliseconds()))

	return md, nil
}

func (e *Extractor) titleFrom(page *FetchResult, rawURL string) (*Result, error) {
	field, ok := ExtractField(string(page.Body), TitleCandidates)
	if !ok {
		return e.hostnameTitle(rawURL)
	}
	return &Result{Value: field.Value, Source: field.Kind}, nil
}

// load validates rawURL and fetches it within the policy budgets.
func (e *Extractor) load(ctx context.Context, rawURL string) (*FetchResult, error) {
	if rawURL == "" {
		return nil, &ValidationError{URL: rawURL, Reason: ReasonMalformed}
	}
	if err := e.validator.Validate(rawURL).Err(rawURL); err != nil {
		return nil, err
	}
	return e.fetcher.Fetch(ctx, rawURL)
}

func (e *Extractor) hostnameTitle(rawURL string) (*Result, error) {
	u, err := netUrl.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil, ErrNoMatch
	}
	return &Result{Value: u.Hostname(), Source: KindHostname}, nil
}
