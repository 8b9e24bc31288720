// Package manifest models the manifest variants served by a registry and
// classifies raw response bodies into them. The declared media type is
// advisory only, the structural decode is authoritative.
package manifest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/opencontainers/go-digest"
	"github.com/regmirror/regmirror/types"
	"github.com/regmirror/regmirror/types/errs"
)

// Image is an OCI or Docker v2 image manifest.
type Image struct {
	SchemaVersion int                `json:"schemaVersion"`
	MediaType     string             `json:"mediaType,omitempty"`
	Config        types.Descriptor   `json:"config"`
	Layers        []types.Descriptor `json:"layers"`
	Subject       *types.Descriptor  `json:"subject,omitempty"`
	Annotations   map[string]string  `json:"annotations,omitempty"`
}

// Artifact is a non-image artifact (sbom, signature, streamable-format link)
// attached to a subject manifest.
type Artifact struct {
	MediaType    string             `json:"mediaType"`
	ArtifactType string             `json:"artifactType"`
	Blobs        []types.Descriptor `json:"blobs"`
	Subject      types.Descriptor   `json:"subject"`
	Annotations  map[string]string  `json:"annotations,omitempty"`
}

// Index is a fan-out to platform specific manifests.
type Index struct {
	SchemaVersion int                `json:"schemaVersion"`
	MediaType     string             `json:"mediaType,omitempty"`
	Manifests     []types.Descriptor `json:"manifests"`
	Annotations   map[string]string  `json:"annotations,omitempty"`
}

// Manifests is the tagged union of the manifest variants. Exactly one of
// Image, Artifact, or Index is set.
type Manifests struct {
	Desc     types.Descriptor
	Raw      []byte
	Image    *Image
	Artifact *Artifact
	Index    *Index
}

// IsZero reports whether no variant was set.
func (m Manifests) IsZero() bool {
	return m.Image == nil && m.Artifact == nil && m.Index == nil
}

// MediaType returns the media type of the resolved variant, preferring the
// response header over the document body.
func (m Manifests) MediaType() string {
	if m.Desc.MediaType != "" {
		return m.Desc.MediaType
	}
	switch {
	case m.Image != nil:
		return m.Image.MediaType
	case m.Artifact != nil:
		return m.Artifact.MediaType
	case m.Index != nil:
		return m.Index.MediaType
	}
	return ""
}

// FromResponse builds a Manifests value from an upstream manifest response.
// The descriptor is extracted from the response headers, the body digest is
// verified against Docker-Content-Digest when present, and the body is then
// classified structurally.
func FromResponse(header http.Header, body []byte) (Manifests, error) {
	desc := types.Descriptor{
		MediaType: types.MediaTypeBase(header.Get("Content-Type")),
		Size:      int64(len(body)),
	}
	if cl := header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > 0 {
			desc.Size = n
		}
	}
	if dcd := header.Get("Docker-Content-Digest"); dcd != "" {
		dig, err := digest.Parse(dcd)
		if err != nil {
			return Manifests{}, fmt.Errorf("invalid digest header %q: %w", dcd, errs.ErrParsingFailed)
		}
		if err := Verify(body, dig); err != nil {
			return Manifests{}, err
		}
		desc.Digest = dig
	} else {
		desc.Digest = digest.FromBytes(body)
	}
	return Classify(desc, body)
}

// Classify decodes the body into the first matching variant, trying Index,
// then Image, then Artifact.
func Classify(desc types.Descriptor, body []byte) (Manifests, error) {
	m := Manifests{Desc: desc, Raw: body}
	index := Index{}
	if err := json.Unmarshal(body, &index); err == nil && index.Manifests != nil {
		m.Index = &index
		return m, nil
	}
	image := Image{}
	if err := json.Unmarshal(body, &image); err == nil && image.Config.Digest != "" {
		m.Image = &image
		return m, nil
	}
	artifact := Artifact{}
	if err := json.Unmarshal(body, &artifact); err == nil &&
		(artifact.ArtifactType != "" || artifact.Subject.Digest != "") {
		m.Artifact = &artifact
		return m, nil
	}
	return Manifests{}, fmt.Errorf("body did not decode as an index, image, or artifact manifest: %w", errs.ErrParsingFailed)
}

// Verify recomputes the digest of body with the algorithm declared by want
// (sha256 or sha512 by prefix) and compares. A mismatch means the upstream
// served tampered or corrupted content and must never be passed through.
func Verify(body []byte, want digest.Digest) error {
	if err := want.Validate(); err != nil {
		return fmt.Errorf("invalid digest %q: %w", want, errs.ErrParsingFailed)
	}
	if got := want.Algorithm().FromBytes(body); got != want {
		return fmt.Errorf("computed %s, upstream declared %s: %w", got, want, errs.ErrDigestMismatch)
	}
	return nil
}
