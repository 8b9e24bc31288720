package types

import (
	"strconv"

	"github.com/opencontainers/go-digest"
)

// Annotation keys linking an artifact to its streamable variant.
const (
	AnnotStreamingMediaType = "streaming.mediaType"
	AnnotStreamingDigest    = "streaming.digest"
	AnnotStreamingSize      = "streaming.size"
	AnnotStreamingFormat    = "streaming.format"
	AnnotStreamingPlatOS    = "streaming.platform.os"
	AnnotStreamingPlatArch  = "streaming.platform.architecture"
)

// StreamingDescriptor points at the streamable (teleportable) encoding of an
// image. It is derived on demand from the annotations of an artifact
// descriptor and never persisted on its own.
type StreamingDescriptor struct {
	MediaType string
	Digest    digest.Digest
	Size      int64
	Format    string
	Platform  *Platform
}

// StreamingDescriptor extracts the streamable variant referenced by the
// descriptor's annotations. Most artifacts are not streamable, so a missing
// annotation set returns ok=false rather than an error.
func (d Descriptor) StreamingDescriptor() (StreamingDescriptor, bool) {
	sd := StreamingDescriptor{}
	if d.Annotations == nil {
		return sd, false
	}
	mt, okMT := d.Annotations[AnnotStreamingMediaType]
	dig, okDig := d.Annotations[AnnotStreamingDigest]
	if !okMT || !okDig {
		return sd, false
	}
	parsed, err := digest.Parse(dig)
	if err != nil {
		return sd, false
	}
	sd.MediaType = mt
	sd.Digest = parsed
	sd.Format = d.Annotations[AnnotStreamingFormat]
	if sz, ok := d.Annotations[AnnotStreamingSize]; ok {
		if n, err := strconv.ParseInt(sz, 10, 64); err == nil {
			sd.Size = n
		}
	}
	if os, ok := d.Annotations[AnnotStreamingPlatOS]; ok {
		sd.Platform = &Platform{
			OS:           os,
			Architecture: d.Annotations[AnnotStreamingPlatArch],
		}
	}
	return sd, true
}
