package cmn

import "strings"

// CloudScheme identifies which object-storage provider a URL addresses, if
// any. Detection is purely by scheme: a plain https:// URL, even one that
// happens to point at a cloud-storage host, passes through unchanged and
// is fetched like any other HTTP URL.
type CloudScheme int

const (
	CloudNone CloudScheme = iota
	CloudS3
	CloudAzure
	CloudGoogle
)

// DetectCloudScheme classifies rawURL by its s3://, azblob:// or gs://
// scheme. Every other scheme, including https://, returns CloudNone.
func DetectCloudScheme(rawURL string) CloudScheme {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	switch {
	case strings.HasPrefix(lower, "s3://"):
		return CloudS3
	case strings.HasPrefix(lower, "azblob://"):
		return CloudAzure
	case strings.HasPrefix(lower, "gs://"):
		return CloudGoogle
	default:
		return CloudNone
	}
}

func (s CloudScheme) String() string {
	switch s {
	case CloudS3:
		return "s3"
	case CloudAzure:
		return "azblob"
	case CloudGoogle:
		return "gs"
	default:
		return "none"
	}
}
