package referrer

import (
	"errors"
	"fmt"
	"testing"

	_ "crypto/sha256"

	"github.com/opencontainers/go-digest"
	"github.com/regmirror/regmirror/types"
	"github.com/regmirror/regmirror/types/errs"
)

func TestUnmarshal(t *testing.T) {
	t.Parallel()
	digA := digest.FromString("a")
	body := []byte(fmt.Sprintf(`{"referrers":[{"mediaType":%q,"digest":%q,"size":10,"artifactType":"dadi.image.v1"}]}`,
		types.MediaTypeORASArtifact, digA))
	l := List{}
	if err := l.Unmarshal(body); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(l.Referrers) != 1 || l.Referrers[0].Digest != digA {
		t.Errorf("got %+v", l.Referrers)
	}
	if err := (&List{}).Unmarshal([]byte(`not json`)); !errors.Is(err, errs.ErrParsingFailed) {
		t.Errorf("got %v, want ErrParsingFailed", err)
	}
}

func TestSorted(t *testing.T) {
	t.Parallel()
	l := List{Referrers: []types.Descriptor{
		{Digest: digest.Digest("sha256:cccc")},
		{Digest: digest.Digest("sha256:aaaa")},
		{Digest: digest.Digest("sha256:bbbb")},
	}}
	sorted := l.Sorted()
	if sorted[0].Digest != "sha256:aaaa" || sorted[2].Digest != "sha256:cccc" {
		t.Errorf("wrong order: %v", sorted)
	}
	// the input list is untouched
	if l.Referrers[0].Digest != "sha256:cccc" {
		t.Error("Sorted mutated its receiver")
	}
}
