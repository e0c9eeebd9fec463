package deposit

import "strings"

// Intake metadata keys. Deposits arrive with HTTP-header-style metadata.
const (
	HeaderContentDisposition = "Content-Disposition"
	HeaderAuthenticatedUser  = "X-Dcs-Authenticated-User"
	HeaderPackaging          = "X-Packaging"
	HeaderContentType        = "Content-Type"
	HeaderContentMD5         = "Content-MD5"
)

// DefaultPackagingProfile is the one packaging profile accepted for deposits.
const DefaultPackagingProfile = "http://dataconservancy.org/schemas/bagit/0.98"

// DefaultFileName names the deposited file when Content-Disposition carries none.
const DefaultFileName = "package"

// ParseFileName extracts the file name from a Content-Disposition value. It locates
// the first `filename="` and reads up to the next quote; without a closing quote the
// rest of the value is used.
func ParseFileName(disposition string) string {
	const marker = `filename="`
	i := strings.Index(disposition, marker)
	if i < 0 {
		return ""
	}
	rest := disposition[i+len(marker):]
	if j := strings.IndexByte(rest, '"'); j >= 0 {
		return rest[:j]
	}
	return rest
}

// Metadata is deposit intake metadata keyed by header name.
type Metadata map[string]string

// Get looks key up exactly, then ignoring case.
func (m Metadata) Get(key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// FileName returns the deposited file name from Content-Disposition.
func (m Metadata) FileName() string {
	return ParseFileName(m.Get(HeaderContentDisposition))
}

// User returns the authenticated depositor.
func (m Metadata) User() string {
	return m.Get(HeaderAuthenticatedUser)
}
