// Package fingerprint derives cache keys for capture requests and picks the
// strategy used to resolve them.
package fingerprint

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/shotcast/internal/capture"
)

// Resolution is the outcome of resolving a request.
type Resolution struct {
	Strategy    capture.Strategy
	Fingerprint capture.Fingerprint
}

// Resolver builds fingerprints. It is stateless and safe for concurrent use.
type Resolver struct {
	hasher capture.Hasher
}

// New returns a Resolver that digests canonical keys with hasher. A nil hasher
// leaves the canonical encoding as the key.
func New(hasher capture.Hasher) *Resolver {
	return &Resolver{hasher: hasher}
}

// Resolve returns the effective strategy (cache-first when unset) and the
// fingerprint of (projectId, targetUrl, delaySecs, imageType).
func (r *Resolver) Resolve(req capture.Request) Resolution {
	strategy := req.Strategy
	if strategy == "" {
		strategy = capture.CacheFirst
	}
	fp := capture.Fingerprint{
		ProjectID: req.ProjectID,
		TargetURL: req.TargetURL,
		DelaySecs: req.DelaySecs,
		ImageType: req.ImageType,
	}
	fp.Key = r.key(fp)
	return Resolution{Strategy: strategy, Fingerprint: fp}
}

// Canonical encodes the fingerprint fields as sorted, escaped key=value pairs.
func Canonical(fp capture.Fingerprint) string {
	values := url.Values{}
	values.Set("delay_secs", strconv.Itoa(fp.DelaySecs))
	values.Set("image_type", string(fp.ImageType))
	values.Set("project_id", fp.ProjectID)
	values.Set("target_url", NormalizeURL(fp.TargetURL))
	return values.Encode()
}

// NormalizeURL folds spellings of the same page onto one form: scheme and
// host are lowercased, default ports and fragments are dropped and an empty
// path becomes "/". The query is kept verbatim since its order can matter to
// the target. Unparseable input is returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func (r *Resolver) key(fp capture.Fingerprint) string {
	canonical := Canonical(fp)
	if r == nil || r.hasher == nil {
		return canonical
	}
	digest, err := r.hasher.Hash([]byte(canonical))
	if err != nil {
		return canonical
	}
	return digest
}
