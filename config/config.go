// Package config loads the mirror configuration file.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/regmirror/regmirror/types/errs"
	"gopkg.in/yaml.v3"
)

// Streamable formats the mirror can substitute.
const (
	FormatOverlayBD = "overlaybd"
	FormatNydus     = "nydus"
	FormatManual    = "manual"
)

// DefaultReferrersPath is the referrers endpoint used when the config does
// not name one.
const DefaultReferrersPath = "_oras/artifacts/referrers"

// Config is the top level mirror configuration.
type Config struct {
	// Listen is the address the mirror serves on.
	Listen string `yaml:"listen"`
	// Namespace is the upstream host mirrored when a request carries no ns
	// query parameter.
	Namespace string `yaml:"namespace,omitempty"`
	// Insecure talks plain HTTP to upstreams, for registries behind a local
	// proxy or in tests.
	Insecure bool `yaml:"insecure,omitempty"`
	// Teleport configures streamable variant substitution.
	Teleport Teleport `yaml:"teleport,omitempty"`
	// Auth configures credential resolution.
	Auth Auth `yaml:"auth,omitempty"`
}

// Teleport configures the substitution of streamable image variants.
type Teleport struct {
	// Format enables teleport for a streamable format, empty disables it.
	Format string `yaml:"format,omitempty"`
	// ReferrersPath overrides the referrers API endpoint.
	ReferrersPath string `yaml:"referrersPath,omitempty"`
	// ArtifactType overrides the artifact type queried from the referrers
	// API, normally derived from the format.
	ArtifactType string `yaml:"artifactType,omitempty"`
	// From and To configure the manual override, resolving From serves To.
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`
}

// Auth configures how the mirror obtains upstream credentials.
type Auth struct {
	// TenantID scopes the access token exchange.
	TenantID string `yaml:"tenantId,omitempty"`
	// AccessTokenPath points at a cached token file maintained out of band.
	AccessTokenPath string `yaml:"accessTokenPath,omitempty"`
	// Username and Password select the password grant when both are set.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config %s: %w: %v", path, errs.ErrSystemEnvironment, err)
	}
	defer f.Close()
	return LoadReader(f)
}

// LoadReader reads and validates config YAML.
func LoadReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w: %v", errs.ErrSystemEnvironment, err)
	}
	c := Config{}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config: %w: %v", errs.ErrDataFormat, err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "localhost:5000"
	}
	if c.Teleport.ReferrersPath == "" {
		c.Teleport.ReferrersPath = DefaultReferrersPath
	}
	if c.Teleport.ArtifactType == "" {
		switch c.Teleport.Format {
		case FormatOverlayBD:
			c.Teleport.ArtifactType = "dadi.image.v1"
		case FormatNydus:
			c.Teleport.ArtifactType = "nydus.image.v1"
		}
	}
}

func (c *Config) validate() error {
	switch c.Teleport.Format {
	case "", FormatOverlayBD, FormatNydus:
	case FormatManual:
		if c.Teleport.From == "" || c.Teleport.To == "" {
			return errs.InvalidOperation("manual teleport requires both from and to digests")
		}
		if _, err := digest.Parse(c.Teleport.From); err != nil {
			return fmt.Errorf("teleport from digest: %w: %v", errs.ErrDataFormat, err)
		}
		if _, err := digest.Parse(c.Teleport.To); err != nil {
			return fmt.Errorf("teleport to digest: %w: %v", errs.ErrDataFormat, err)
		}
	default:
		return errs.InvalidOperation("unrecognized teleport format " + c.Teleport.Format)
	}
	return nil
}
