// Package teleport discovers and substitutes streamable image variants.
// Discovery walks the referrers API: an artifact of the configured type links
// the original image to a manifest in a lazily-pullable encoding such as
// overlaybd or nydus. Substitution is best effort, every failure degrades to
// serving the original manifest.
package teleport

import (
	"context"
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/regmirror/regmirror/config"
	"github.com/regmirror/regmirror/target"
	"github.com/regmirror/regmirror/types"
	"github.com/regmirror/regmirror/types/errs"
	"github.com/regmirror/regmirror/types/manifest"
	"github.com/sirupsen/logrus"
)

// Terminal outcomes of a teleport resolution.
const (
	// OutcomeSubstituted when a streamable manifest replaces the original.
	OutcomeSubstituted = "substituted"
	// OutcomeRequiresConversion when a linking artifact exists but holds no
	// streamable manifest yet, an out-of-process converter must run first.
	OutcomeRequiresConversion = "requires-conversion"
	// OutcomeNoStreamableVariant when the referrers query came back empty.
	OutcomeNoStreamableVariant = "no-streamable-variant"
	// OutcomePassThrough when teleport did not apply to the request at all.
	OutcomePassThrough = "pass-through"
)

// streamableMediaType maps a configured format to the media type its
// streamable manifest is published under.
var streamableMediaType = map[string]string{
	config.FormatOverlayBD: types.MediaTypeDocker2Manifest,
	config.FormatNydus:     types.MediaTypeOCI1Manifest,
}

// Result is the decision for one resolved manifest. Manifest is the content
// to serve: the substitute when Outcome is OutcomeSubstituted, the original
// otherwise.
type Result struct {
	Outcome   string
	Manifest  manifest.Manifests
	Streaming *types.StreamingDescriptor
}

// ConversionHook is called when a subject needs converting before a
// streamable variant exists, with the format the converter must produce. It
// must not block the request.
type ConversionHook func(repo string, subject digest.Digest, format string)

// Resolver applies the configured teleport mode to resolved manifests.
type Resolver struct {
	format        string
	artifactType  string
	referrersPath string
	overrideFrom  digest.Digest
	overrideTo    digest.Digest
	convert       ConversionHook
	log           *logrus.Logger
}

// Opt configures options for NewResolver.
type Opt func(*Resolver)

// NewResolver builds a resolver from the teleport config. An empty format
// disables substitution, every request then passes through.
func NewResolver(cfg config.Teleport, opts ...Opt) (*Resolver, error) {
	r := &Resolver{
		format:        cfg.Format,
		artifactType:  cfg.ArtifactType,
		referrersPath: cfg.ReferrersPath,
	}
	r.log = &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.WarnLevel,
	}
	if r.referrersPath == "" {
		r.referrersPath = config.DefaultReferrersPath
	}
	if cfg.Format == config.FormatManual {
		from, err := digest.Parse(cfg.From)
		if err != nil {
			return nil, fmt.Errorf("override from digest: %w: %v", errs.ErrParsingFailed, err)
		}
		to, err := digest.Parse(cfg.To)
		if err != nil {
			return nil, fmt.Errorf("override to digest: %w: %v", errs.ErrParsingFailed, err)
		}
		r.overrideFrom, r.overrideTo = from, to
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// WithConversionHook registers the callback fired on OutcomeRequiresConversion.
func WithConversionHook(hook ConversionHook) Opt {
	return func(r *Resolver) {
		r.convert = hook
	}
}

// WithLog injects a logrus Logger.
func WithLog(log *logrus.Logger) Opt {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// Resolve decides what to serve for a resolved manifest. No failure here is
// fatal, errors during discovery or override re-resolve are logged and degrade
// to passing the original through.
func (r *Resolver) Resolve(ctx context.Context, t *target.Target, m manifest.Manifests) Result {
	passThrough := Result{Outcome: OutcomePassThrough, Manifest: m}
	switch r.format {
	case "":
		return passThrough
	case config.FormatManual:
		return r.resolveOverride(ctx, t, m)
	}
	// only image manifests have streamable encodings, indexes and artifacts
	// pass through
	if m.Image == nil {
		return passThrough
	}
	res, err := r.discover(ctx, t, m)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"repo":   t.Repo(),
			"digest": m.Desc.Digest.String(),
			"err":    err,
		}).Warn("teleport discovery failed, serving the original manifest")
		return passThrough
	}
	return res
}

// resolveOverride serves the configured substitute when the resolved digest
// matches the override source, anything else is untouched. An override target
// that cannot be resolved degrades to serving the original, like every other
// teleport failure.
func (r *Resolver) resolveOverride(ctx context.Context, t *target.Target, m manifest.Manifests) Result {
	if m.Desc.Digest != r.overrideFrom {
		return Result{Outcome: OutcomePassThrough, Manifest: m}
	}
	sub, err := t.WithDigest(r.overrideTo).Resolve(ctx)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"from": r.overrideFrom.String(),
			"to":   r.overrideTo.String(),
			"err":  err,
		}).Warn("override target unresolvable, serving the original manifest")
		return Result{Outcome: OutcomePassThrough, Manifest: m}
	}
	r.log.WithFields(logrus.Fields{
		"from": r.overrideFrom.String(),
		"to":   r.overrideTo.String(),
	}).Info("manual override substituted")
	return Result{Outcome: OutcomeSubstituted, Manifest: sub}
}

func (r *Resolver) discover(ctx context.Context, t *target.Target, m manifest.Manifests) (Result, error) {
	list, err := t.Referrers(ctx, m.Desc.Digest, r.artifactType, r.referrersPath)
	if err != nil {
		return Result{}, err
	}
	sorted := list.Sorted()
	if len(sorted) == 0 {
		return Result{Outcome: OutcomeNoStreamableVariant, Manifest: m}, nil
	}
	// referrer order is not defined by the registry, the lowest digest after
	// sorting is the candidate so repeated resolutions agree
	candidate := sorted[0]
	artBody, err := t.RequestContent(ctx, candidate)
	if err != nil {
		return Result{}, fmt.Errorf("fetching referrer %s: %w", candidate.Digest, err)
	}
	art, err := manifest.Classify(candidate, artBody)
	if err != nil {
		return Result{}, err
	}
	if art.Artifact == nil {
		return Result{}, fmt.Errorf("referrer %s is not an artifact manifest: %w", candidate.Digest, errs.ErrDataFormat)
	}
	want := streamableMediaType[r.format]
	for _, blob := range art.Artifact.Blobs {
		if types.MediaTypeBase(blob.MediaType) != want {
			continue
		}
		body, err := t.RequestContent(ctx, blob)
		if err != nil {
			return Result{}, fmt.Errorf("fetching streamable manifest %s: %w", blob.Digest, err)
		}
		sub, err := manifest.Classify(blob, body)
		if err != nil {
			return Result{}, err
		}
		if sub.Image == nil {
			return Result{}, fmt.Errorf("streamable blob %s is not an image manifest: %w", blob.Digest, errs.ErrDataFormat)
		}
		res := Result{Outcome: OutcomeSubstituted, Manifest: sub}
		if sd, ok := candidate.StreamingDescriptor(); ok {
			res.Streaming = &sd
		}
		r.log.WithFields(logrus.Fields{
			"repo":   t.Repo(),
			"from":   m.Desc.Digest.String(),
			"to":     blob.Digest.String(),
			"format": r.format,
		}).Info("substituted streamable manifest")
		return res, nil
	}
	if r.convert != nil {
		r.convert(t.Repo(), m.Desc.Digest, r.format)
	}
	return Result{Outcome: OutcomeRequiresConversion, Manifest: m}, nil
}
