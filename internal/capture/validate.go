package capture

import (
	"errors"
	"net/url"
	"strings"
)

// DefaultMaxDelaySecs bounds the settle delay when no limit is configured.
const DefaultMaxDelaySecs = 10

// Validate checks the request fields before any work starts. Every problem is
// reported, joined with errors.Join.
func (r Request) Validate(maxDelaySecs int) error {
	if maxDelaySecs <= 0 {
		maxDelaySecs = DefaultMaxDelaySecs
	}
	var errs []error
	for _, m := range r.Malformed {
		errs = append(errs, ValidationErrorf("%s", m))
	}
	if strings.TrimSpace(r.RequestID) == "" {
		errs = append(errs, ValidationErrorf("requestId is required"))
	}
	if strings.TrimSpace(r.ProjectID) == "" {
		errs = append(errs, ValidationErrorf("projectId is required"))
	}
	if err := validateTargetURL(r.TargetURL); err != nil {
		errs = append(errs, err)
	}
	if r.DelaySecs < 0 || r.DelaySecs > maxDelaySecs {
		errs = append(errs, ValidationErrorf("delaySecs must be between 0 and %d", maxDelaySecs))
	}
	if !r.ImageType.Valid() {
		errs = append(errs, ValidationErrorf("imageType %q is not supported", r.ImageType))
	}
	if r.Strategy != "" && !r.Strategy.Valid() {
		errs = append(errs, ValidationErrorf("strategy %q is not supported", r.Strategy))
	}
	return errors.Join(errs...)
}

func validateTargetURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return ValidationErrorf("targetUrl is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ValidationErrorf("targetUrl %q is not a valid URL", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ValidationErrorf("targetUrl must use http or https")
	}
	if u.Host == "" {
		return ValidationErrorf("targetUrl must include a host")
	}
	return nil
}
