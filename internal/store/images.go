package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"shopino/crawler/internal/domain"
	"shopino/crawler/internal/fetcher"
	"shopino/crawler/internal/state"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// storeImages downloads urls for p and returns every asset the product now
// has. Bytes already stored for the product are never written twice: a row
// whose URL the product no longer lists is moved to the new URL, otherwise the
// new URL gets its own row sharing the existing file. It fails only on
// repository errors.
func (s *Store) storeImages(ctx context.Context, crawl *state.CrawlState, p *domain.Product, existing []domain.ImageAsset, urls []string) ([]domain.ImageAsset, error) {
	listed := make(map[string]struct{}, len(p.ImageURLs))
	for _, u := range p.ImageURLs {
		listed[u] = struct{}{}
	}

	assets := make([]domain.ImageAsset, 0, len(existing)+len(urls))
	byHash := make(map[string][]int, len(existing))
	bySource := make(map[string]struct{}, len(existing)+len(urls))
	for _, img := range existing {
		byHash[img.ContentHash] = append(byHash[img.ContentHash], len(assets))
		bySource[img.SourceURL] = struct{}{}
		assets = append(assets, img)
	}

	dir := s.productDir(p)

	for _, imageURL := range urls {
		if err := ctx.Err(); err != nil {
			return assets, err
		}
		if _, done := bySource[imageURL]; done {
			continue
		}

		page, err := s.fetcher.Fetch(ctx, imageURL)
		if err != nil {
			s.imageFailed(ctx, crawl, p, imageURL, err)
			continue
		}

		sum := sha256.Sum256(page.Body)
		hash := hex.EncodeToString(sum[:])

		if same := byHash[hash]; len(same) > 0 {
			if i, ok := staleAsset(assets, same, listed); ok {
				if err := s.repo.RepointImage(ctx, p.ID, assets[i].SourceURL, imageURL); err != nil {
					return assets, fmt.Errorf("failed to repoint image %s: %w", imageURL, err)
				}
				log.Debugf("🔁 Image %s has the same content as %s", imageURL, assets[i].SourceURL)
				delete(bySource, assets[i].SourceURL)
				assets[i].SourceURL = imageURL
				bySource[imageURL] = struct{}{}
				continue
			}

			alias := assets[same[0]]
			alias.SourceURL = imageURL
			if err := s.repo.SaveImage(ctx, alias); err != nil {
				return assets, fmt.Errorf("failed to save image %s: %w", imageURL, err)
			}
			log.Debugf("🔁 Image %s shares its file with %s", imageURL, assets[same[0]].SourceURL)
			byHash[hash] = append(same, len(assets))
			bySource[imageURL] = struct{}{}
			assets = append(assets, alias)
			continue
		}

		localPath, err := s.writeImage(dir, p.Title, imageExtension(imageURL, page.ContentType, page.Body), page.Body)
		if err != nil {
			s.imageFailed(ctx, crawl, p, imageURL, err)
			continue
		}

		asset := domain.ImageAsset{
			ProductID:   p.ID,
			SourceURL:   imageURL,
			LocalPath:   localPath,
			ContentHash: hash,
		}
		if err := s.repo.SaveImage(ctx, asset); err != nil {
			_ = s.fs.Remove(localPath)
			return assets, fmt.Errorf("failed to save image %s: %w", imageURL, err)
		}

		byHash[hash] = append(byHash[hash], len(assets))
		bySource[imageURL] = struct{}{}
		assets = append(assets, asset)
	}

	return assets, nil
}

// staleAsset returns the first of candidates whose URL the product no longer
// lists.
func staleAsset(assets []domain.ImageAsset, candidates []int, listed map[string]struct{}) (int, bool) {
	for _, i := range candidates {
		if _, ok := listed[assets[i].SourceURL]; !ok {
			return i, true
		}
	}
	return 0, false
}

// writeImage writes body under dir with a name derived from the title. Taken
// names get "_2", "_3" and so on.
func (s *Store) writeImage(dir, title, ext string, body []byte) (string, error) {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	base := SanitizeFilename(title, s.opts.MaxFilename)
	for n := 1; ; n++ {
		name := base + ext
		if n > 1 {
			name = base + "_" + strconv.Itoa(n) + ext
		}
		localPath := filepath.Join(dir, name)

		exists, err := afero.Exists(s.fs, localPath)
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", localPath, err)
		}
		if exists {
			continue
		}

		if err := afero.WriteFile(s.fs, localPath, body, 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", localPath, err)
		}
		return localPath, nil
	}
}

// imageFailed logs and counts a lost image. Images that failed for good are
// written to the ledger so later runs leave them alone.
func (s *Store) imageFailed(ctx context.Context, crawl *state.CrawlState, p *domain.Product, imageURL string, err error) {
	log.Warnf("⚠️ Failed to store image %s of %s: %v", imageURL, p.URL, err)
	if crawl != nil {
		crawl.RecordImageFailure(p.TopLevel, imageURL)
	}

	if s.opts.Ledger == nil || !fetcher.IsPermanent(err) {
		return
	}
	rec := domain.SkipRecord{
		URL:             imageURL,
		Kind:            domain.SkipPermanent,
		Reason:          err.Error(),
		TopLevel:        p.TopLevel,
		SubcategoryPath: p.SubcategoryPath,
		RecordedAt:      time.Now().UTC(),
	}
	if err := s.opts.Ledger.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.Errorf("❌ Failed to record image failure %s: %v", imageURL, err)
	}
}
