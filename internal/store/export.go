package store

import (
	"bytes"
	"encoding/json"
	"path/filepath"

	"shopino/crawler/internal/domain"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

type exportedImage struct {
	SourceURL   string `json:"source_url"`
	LocalPath   string `json:"local_path,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
}

type exportedProduct struct {
	*domain.Product
	Images []exportedImage `json:"images"`
}

// ExportPath is where the JSON copy of a product is written.
func (s *Store) ExportPath(p *domain.Product) string {
	return filepath.Join(s.productDir(p), p.ID+".json")
}

// export writes the product with the local path of each of its images. Images
// that were never stored keep only their source URL. A failed export is logged.
func (s *Store) export(p *domain.Product, assets []domain.ImageAsset) {
	bySource := make(map[string]domain.ImageAsset, len(assets))
	for _, a := range assets {
		bySource[a.SourceURL] = a
	}

	record := exportedProduct{Product: p, Images: make([]exportedImage, 0, len(p.ImageURLs))}
	for _, u := range p.ImageURLs {
		a := bySource[u]
		record.Images = append(record.Images, exportedImage{
			SourceURL:   u,
			LocalPath:   a.LocalPath,
			ContentHash: a.ContentHash,
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		log.Warnf("⚠️ Failed to encode export of %s: %v", p.URL, err)
		return
	}

	path := s.ExportPath(p)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warnf("⚠️ Failed to create export directory for %s: %v", p.URL, err)
		return
	}
	if err := afero.WriteFile(s.fs, path, buf.Bytes(), 0o644); err != nil {
		log.Warnf("⚠️ Failed to write export of %s: %v", p.URL, err)
	}
}
