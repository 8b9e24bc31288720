// Package credential resolves a raw cloud access token through a provider
// fallback chain: AKS managed-identity config file, cached token file,
// ambient SDK identity.
package credential

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// armScope is the resource all providers request tokens for.
const armScope = "https://management.azure.com/.default"

// Provider is a source of a raw access token that can be exchanged for a
// registry refresh token.
type Provider interface {
	AccessToken(ctx context.Context) (string, error)
}

// TenantID returns the AAD tenant a provider is bound to, empty when the
// provider has no tenant affinity.
func TenantID(p Provider) string {
	if tp, ok := p.(interface{ TenantID() string }); ok {
		return tp.TenantID()
	}
	return ""
}

type resolveOpts struct {
	aksConfigPath   string
	cachedTokenPath string
	log             *logrus.Logger
}

// Opt configures options for Resolve.
type Opt func(*resolveOpts)

// WithCachedTokenPath points the chain at a token file written by an
// out-of-band login.
func WithCachedTokenPath(path string) Opt {
	return func(o *resolveOpts) {
		o.cachedTokenPath = path
	}
}

// WithAKSConfigPath overrides the well-known AKS config location.
func WithAKSConfigPath(path string) Opt {
	return func(o *resolveOpts) {
		o.aksConfigPath = path
	}
}

// WithLog injects a logrus Logger.
func WithLog(log *logrus.Logger) Opt {
	return func(o *resolveOpts) {
		if log != nil {
			o.log = log
		}
	}
}

// Resolve selects the provider for this environment. First applicable wins,
// there is no retry across tiers within one resolution.
func Resolve(opts ...Opt) Provider {
	o := resolveOpts{
		aksConfigPath: aksConfigPath,
	}
	o.log = &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.WarnLevel,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg, err := LoadAKSConfig(o.aksConfigPath); err == nil {
		o.log.Info("AKS config detected, using AKS as the access provider")
		cfg.log = o.log
		return cfg
	}
	if o.cachedTokenPath != "" {
		o.log.WithFields(logrus.Fields{
			"path": o.cachedTokenPath,
		}).Info("using cached token file as the access provider")
		o.log.Warn("if the token file is deleted the fallback is the SDK access provider")
		return &FileProvider{Path: o.cachedTokenPath, log: o.log}
	}
	o.log.Info("ambient SDK identity will be used as the access provider")
	return &SDKProvider{}
}
