package feeds

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "funding-recon-service/pkg/errors"
	"funding-recon-service/pkg/logger"
)

// DirRemittanceSource reads exported advice attachments from a local
// directory. Each regular file is parsed as one advice and the file name
// doubles as the originating message id, so re-running a cycle over the
// same directory is idempotent. It satisfies RemittanceSource for
// deployments where advices are dropped by an external mail exporter.
type DirRemittanceSource struct {
	dir        string
	sourceType string
	log        logger.Logger
}

// NewDirRemittanceSource creates a source reading from dir. sourceType tags
// every advice (for example "oasys").
func NewDirRemittanceSource(dir, sourceType string, log logger.Logger) *DirRemittanceSource {
	if log == nil {
		log = logger.Discard()
	}
	return &DirRemittanceSource{dir: dir, sourceType: sourceType, log: log.WithComponent("advice-dir")}
}

// FetchAdvices parses every file in the directory. A file that cannot be
// parsed is skipped with a warning; it never fails the batch.
func (s *DirRemittanceSource) FetchAdvices(ctx context.Context) ([]RemittanceAdvice, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, apperrors.ConnectivityError(apperrors.CodeConnectionFailed, "advice-dir", err).
			WithContext("dir", s.dir)
	}

	var advices []RemittanceAdvice
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.log.WithError(err).WithField("file", entry.Name()).Warn("skipping unreadable advice file")
			continue
		}
		advice, err := ParseAdvice(data, s.sourceType, entry.Name(), entry.Name())
		if err != nil {
			s.log.WithError(err).WithField("file", entry.Name()).Warn("skipping unparseable advice file")
			continue
		}
		advices = append(advices, *advice)
	}
	sort.Slice(advices, func(i, j int) bool { return advices[i].MessageID < advices[j].MessageID })
	return advices, nil
}
