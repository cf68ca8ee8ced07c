package capture

import (
	"net/url"
	"strings"
	"time"
)

// ImageType is the encoding requested for a screenshot.
type ImageType string

// Supported image encodings.
const (
	ImagePNG  ImageType = "png"
	ImageJPEG ImageType = "jpeg"
)

// Valid reports whether t is a supported encoding.
func (t ImageType) Valid() bool {
	return t == ImagePNG || t == ImageJPEG
}

// ContentType returns the MIME type for the encoding.
func (t ImageType) ContentType() string {
	if t == ImageJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Extension returns the file extension used for object keys.
func (t ImageType) Extension() string {
	if t == ImageJPEG {
		return "jpg"
	}
	return "png"
}

// ParseImageType accepts the wire spelling plus the common "jpg" alias.
func ParseImageType(raw string) (ImageType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "png":
		return ImagePNG, true
	case "jpeg", "jpg":
		return ImageJPEG, true
	default:
		return "", false
	}
}

// Strategy decides whether the cache is consulted before driving a browser.
type Strategy string

// Supported strategies.
const (
	CacheFirst   Strategy = "cache-first"
	NetworkFirst Strategy = "network-first"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == CacheFirst || s == NetworkFirst
}

// Source tells the client where a successful screenshot came from.
type Source string

// Screenshot sources reported on success.
const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Request is a single capture unit of work. RequestID is chosen by the client
// and, together with ClientID, scopes every command and event.
type Request struct {
	RequestID string
	ClientID  string
	ProjectID string
	TargetURL string
	DelaySecs int
	ImageType ImageType
	Strategy  Strategy
	OriginURL string
	// Malformed lists fields that arrived with the wrong type. Validate
	// reports each as a validation problem.
	Malformed []string
}

// Project is the externally managed tenant a request is billed against.
type Project struct {
	ID                  string
	Whitelist           []string
	DailyRequestCeiling int
}

// AllowsOrigin reports whether origin matches the project's whitelist. An empty
// whitelist admits every origin.
func (p Project) AllowsOrigin(origin string) bool {
	if len(p.Whitelist) == 0 {
		return true
	}
	want := normalizeOrigin(origin)
	if want == "" {
		return false
	}
	for _, entry := range p.Whitelist {
		if normalizeOrigin(entry) == want {
			return true
		}
	}
	return false
}

func normalizeOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// Fingerprint identifies cache-equivalent requests. Key is the derived digest
// used as the unique column in the metadata store.
type Fingerprint struct {
	ProjectID string
	TargetURL string
	DelaySecs int
	ImageType ImageType
	Key       string
}

// Screenshot is a persisted artifact's metadata. UploadedAt stays nil until the
// bytes have been written to object storage.
type Screenshot struct {
	ID          string
	Fingerprint string
	ProjectID   string
	TargetURL   string
	DelaySecs   int
	ImageType   ImageType
	CreatedAt   time.Time
	UploadedAt  *time.Time
}

// Uploaded reports whether the artifact's bytes are retrievable.
func (s Screenshot) Uploaded() bool {
	return s.UploadedAt != nil
}

// CaptureOptions parameterizes a single browser capture. OnSettle, when set,
// is invoked once per remaining second of the settle delay.
type CaptureOptions struct {
	TargetURL string
	DelaySecs int
	ImageType ImageType
	OnSettle  func(remaining int)
}

// ScreenshotCaptured is published once a fresh network capture is persisted.
type ScreenshotCaptured struct {
	ScreenshotID string    `json:"screenshot_id"`
	ProjectID    string    `json:"project_id"`
	TargetURL    string    `json:"target_url"`
	DelaySecs    int       `json:"delay_secs"`
	ImageType    ImageType `json:"image_type"`
	Locator      string    `json:"locator"`
	CapturedAt   time.Time `json:"captured_at"`
}
