package types

import "strings"

const (
	// MediaTypeDocker2Manifest is the media type when pulling manifests from a v2 registry
	MediaTypeDocker2Manifest = "application/vnd.docker.distribution.manifest.v2+json"
	// MediaTypeDocker2ManifestList is the media type when pulling a manifest list from a v2 registry
	MediaTypeDocker2ManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	// MediaTypeDocker2ImageConfig is for the configuration json object media type
	MediaTypeDocker2ImageConfig = "application/vnd.docker.container.image.v1+json"
	// MediaTypeDocker2LayerGzip is the default compressed layer for docker schema2
	MediaTypeDocker2LayerGzip = "application/vnd.docker.image.rootfs.diff.tar.gzip"
	// MediaTypeOCI1Manifest OCI v1 manifest media type
	MediaTypeOCI1Manifest = "application/vnd.oci.image.manifest.v1+json"
	// MediaTypeOCI1ManifestList OCI v1 manifest list media type
	MediaTypeOCI1ManifestList = "application/vnd.oci.image.index.v1+json"
	// MediaTypeOCI1ImageConfig OCI v1 configuration json object media type
	MediaTypeOCI1ImageConfig = "application/vnd.oci.image.config.v1+json"
	// MediaTypeOCI1Layer is the uncompressed layer for OCI v1
	MediaTypeOCI1Layer = "application/vnd.oci.image.layer.v1.tar"
	// MediaTypeOCI1LayerGzip is the gzip compressed layer for OCI v1
	MediaTypeOCI1LayerGzip = "application/vnd.oci.image.layer.v1.tar+gzip"
	// MediaTypeOCI1Artifact OCI v1 artifact manifest media type
	MediaTypeOCI1Artifact = "application/vnd.oci.artifact.manifest.v1+json"
	// MediaTypeORASArtifact ORAS artifact manifest media type
	MediaTypeORASArtifact = "application/vnd.cncf.oras.artifact.manifest.v1+json"
)

// manifestMediaTypes are served from the manifests endpoint, everything else
// is fetched as a blob.
var manifestMediaTypes = map[string]bool{
	MediaTypeDocker2Manifest:     true,
	MediaTypeDocker2ManifestList: true,
	MediaTypeOCI1Manifest:        true,
	MediaTypeOCI1ManifestList:    true,
	MediaTypeOCI1Artifact:        true,
	MediaTypeORASArtifact:        true,
}

// Endpoint returns the registry endpoint ("manifests" or "blobs") serving
// content of the given media type.
func Endpoint(mediaType string) string {
	if manifestMediaTypes[MediaTypeBase(mediaType)] {
		return "manifests"
	}
	return "blobs"
}

// MediaTypeBase cleans the suffix from a media type.
func MediaTypeBase(orig string) string {
	base, _, _ := strings.Cut(orig, ";")
	return strings.TrimSpace(base)
}
