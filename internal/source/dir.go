package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	payloadschema "github.com/AntonioGuanche/ProcureWatch-sub001/schema"
)

// PageFileName returns the replay file name for a 1-based page number.
func PageFileName(page int) string {
	return fmt.Sprintf("page-%04d.json", page)
}

// DirFetcher replays pages previously saved as page-0001.json, page-0002.json
// and so on. A missing file is an empty page. Each file is schema-checked
// before decoding.
type DirFetcher struct {
	source model.Source
	dir    string
}

// NewDirFetcher builds a replay fetcher rooted at dir.
func NewDirFetcher(src model.Source, dir string) (*DirFetcher, error) {
	cleaned := strings.TrimSpace(dir)
	if cleaned == "" {
		return nil, fmt.Errorf("replay directory is empty")
	}
	info, err := os.Stat(cleaned)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", cleaned, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cleaned)
	}
	return &DirFetcher{source: src, dir: cleaned}, nil
}

// FetchPage reads the file for page. The query and page size are ignored; the
// files already hold fixed pages.
func (f *DirFetcher) FetchPage(ctx context.Context, _ string, page, _ int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if page < 1 {
		return Page{}, fmt.Errorf("page must be >= 1")
	}

	path := filepath.Join(f.dir, PageFileName(page))
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Page{}, nil
		}
		return Page{}, fmt.Errorf("read %s: %w", path, err)
	}
	if err := payloadschema.ValidatePage(string(f.source), raw); err != nil {
		return Page{}, fmt.Errorf("%s: %w", path, err)
	}
	return DecodePage(f.source, raw)
}
