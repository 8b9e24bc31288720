package types

import (
	// crypto libraries included for go-digest
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/opencontainers/go-digest"
	"github.com/regmirror/regmirror/types/errs"
)

// Descriptor is used in manifests to refer to content by media type, size,
// and digest. Once pushed to a registry no field may change, the digest is a
// pure function of the serialized content.
type Descriptor struct {
	// MediaType describe the type of the content.
	MediaType string `json:"mediaType,omitempty"`

	// ArtifactType is the media type of the referenced artifact.
	ArtifactType string `json:"artifactType,omitempty"`

	// Size in bytes of content.
	Size int64 `json:"size,omitempty"`

	// Digest uniquely identifies the content.
	Digest digest.Digest `json:"digest,omitempty"`

	// URLs contains the source URLs of this content.
	URLs []string `json:"urls,omitempty"`

	// Annotations contains arbitrary metadata relating to the targeted content.
	Annotations map[string]string `json:"annotations,omitempty"`

	// Data is an embedding of the targeted content. This is encoded as a
	// base64 string when marshalled to JSON (automatically, by
	// encoding/json). If present, Data can be used directly to avoid
	// fetching the targeted content.
	Data []byte `json:"data,omitempty"`

	// Platform describes the platform which the image in the manifest runs
	// on. This should only be used when referring to a manifest.
	Platform *Platform `json:"platform,omitempty"`
}

// GetData returns the embedded content from the Data field (already base64
// decoded by encoding/json), verified against the descriptor's size and
// digest so embedded data is held to the same bar as fetched content.
func (d Descriptor) GetData() ([]byte, error) {
	if int64(len(d.Data)) != d.Size {
		return nil, errs.ErrParsingFailed
	}
	if err := d.Digest.Validate(); err != nil {
		return nil, errs.ErrParsingFailed
	}
	if d.Digest.Algorithm().FromBytes(d.Data) != d.Digest {
		return nil, errs.ErrDigestMismatch
	}
	return d.Data, nil
}
