package credential

import (
	"context"
	"os"

	"github.com/regmirror/regmirror/internal/auth"
	"github.com/sirupsen/logrus"
)

// FileProvider reads a cached token file maintained by an out-of-band login
// flow. The read is not transactional on purpose: token files are only ever
// deleted to force rotation, so a file that disappears between the existence
// check and the read falls back to the SDK provider instead of failing.
type FileProvider struct {
	Path string

	log *logrus.Logger
}

// AccessToken returns the cached token, or the SDK provider's token when the
// file has been deleted.
func (p *FileProvider) AccessToken(ctx context.Context) (string, error) {
	if _, err := os.Stat(p.Path); err != nil {
		if p.log != nil {
			p.log.WithFields(logrus.Fields{
				"path": p.Path,
			}).Warn("token file has been deleted, falling back to the SDK access provider")
		}
		return (&SDKProvider{}).AccessToken(ctx)
	}
	tok, err := auth.ReadTokenCache(p.Path)
	if err != nil {
		return "", err
	}
	return tok.Token(), nil
}
