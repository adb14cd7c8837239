package tenant

import (
	"strings"
	"time"
)

// NoTenant is the ID reported when no tenant could be determined.
const NoTenant int64 = 0

// WildcardMarker may lead or trail a Domain pattern.
const WildcardMarker = "*"

// Tenant represents a subsite: a logical partition of content within one
// shared application instance.
type Tenant struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Language  string    `json:"language"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the tenant can be saved
func (t *Tenant) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "Title", Message: `Please add a "Title"`}
	}
	if n := strings.Count(t.Domain, WildcardMarker); n > 1 || (n == 1 && !t.IsWildcard()) {
		return &ValidationError{Field: "Domain", Message: `A domain may hold one "*", at its start or its end`}
	}
	return nil
}

// IsWildcard reports whether Domain is a fuzzy pattern rather than a host.
func (t *Tenant) IsWildcard() bool {
	return strings.HasPrefix(t.Domain, WildcardMarker) || strings.HasSuffix(t.Domain, WildcardMarker)
}

// AbsoluteBaseURL joins protocol, Domain and basePath, e.g.
// ("https://", "/") -> "https://example.com/".
func (t *Tenant) AbsoluteBaseURL(protocol, basePath string) string {
	return strings.TrimSuffix(protocol+t.Domain, "/") + "/" + strings.TrimPrefix(basePath, "/")
}
