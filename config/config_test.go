package config

import (
	"errors"
	"strings"
	"testing"

	_ "crypto/sha256"

	"github.com/opencontainers/go-digest"
	"github.com/regmirror/regmirror/types/errs"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	c, err := LoadReader(strings.NewReader(`namespace: registry.example.com`))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.Listen != "localhost:5000" {
		t.Errorf("got listen %s, want localhost:5000", c.Listen)
	}
	if c.Teleport.ReferrersPath != DefaultReferrersPath {
		t.Errorf("got referrers path %s, want %s", c.Teleport.ReferrersPath, DefaultReferrersPath)
	}
	if c.Teleport.ArtifactType != "" {
		t.Errorf("artifact type defaulted without a format: %s", c.Teleport.ArtifactType)
	}
}

func TestLoadFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		in               string
		wantArtifactType string
		wantE            error
	}{
		{
			name:             "overlaybd artifact type",
			in:               "teleport:\n  format: overlaybd\n",
			wantArtifactType: "dadi.image.v1",
		},
		{
			name:             "nydus artifact type",
			in:               "teleport:\n  format: nydus\n",
			wantArtifactType: "nydus.image.v1",
		},
		{
			name:             "explicit artifact type wins",
			in:               "teleport:\n  format: overlaybd\n  artifactType: custom.v2\n",
			wantArtifactType: "custom.v2",
		},
		{
			name:  "unknown format",
			in:    "teleport:\n  format: zstdchunked\n",
			wantE: errs.ErrInvalidOperation,
		},
		{
			name:  "manual without digests",
			in:    "teleport:\n  format: manual\n",
			wantE: errs.ErrInvalidOperation,
		},
		{
			name: "manual with bad digest",
			in: "teleport:\n  format: manual\n  from: not-a-digest\n  to: " +
				digest.FromString("to").String() + "\n",
			wantE: errs.ErrDataFormat,
		},
		{
			name: "manual with digests",
			in: "teleport:\n  format: manual\n  from: " + digest.FromString("from").String() +
				"\n  to: " + digest.FromString("to").String() + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := LoadReader(strings.NewReader(tt.in))
			if !errors.Is(err, tt.wantE) {
				t.Fatalf("got error %v, want %v", err, tt.wantE)
			}
			if tt.wantE != nil {
				return
			}
			if tt.wantArtifactType != "" && c.Teleport.ArtifactType != tt.wantArtifactType {
				t.Errorf("got artifact type %s, want %s", c.Teleport.ArtifactType, tt.wantArtifactType)
			}
		})
	}
}

func TestLoadBadYAML(t *testing.T) {
	t.Parallel()
	_, err := LoadReader(strings.NewReader("listen: [unclosed"))
	if !errors.Is(err, errs.ErrDataFormat) {
		t.Errorf("got %v, want ErrDataFormat", err)
	}
}
