// Package source reads raw documents from the local filesystem or S3.
package source

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"healthai/internal/domain"
	"healthai/internal/extract"
	"healthai/internal/logger"
)

// DocumentID derives a stable document id from its source location, so
// re-ingesting the same file replaces its records.
func DocumentID(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:])[:16]
}

// LoadPaths expands globs and directories into raw documents. Files with
// unsupported extensions are skipped.
func LoadPaths(paths []string) ([]domain.RawDocument, error) {
	files, err := expand(paths)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.RawDocument, 0, len(files))
	for _, f := range files {
		doc, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no supported documents found in %v", domain.ErrInvalidInput, paths)
	}
	return docs, nil
}

// LoadFile reads a single file.
func LoadFile(path string) (domain.RawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RawDocument{}, fmt.Errorf("read %s: %w", path, err)
	}
	return domain.RawDocument{
		ID:         DocumentID(path),
		Source:     path,
		SourceType: extract.DetectSourceType(path),
		Content:    data,
	}, nil
}

func expand(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] && extract.Supported(p) {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, m, err)
			}
			if !info.IsDir() {
				add(m)
				continue
			}
			err = filepath.WalkDir(m, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					if path != m && len(d.Name()) > 1 && d.Name()[0] == '.' {
						return filepath.SkipDir
					}
					return nil
				}
				add(path)
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("walk %s: %w", m, err)
			}
		}
	}
	sort.Strings(files)
	logger.Debug("resolved %d files from %d paths", len(files), len(paths))
	return files, nil
}
