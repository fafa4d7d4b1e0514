package app

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/source"
	payloadschema "github.com/AntonioGuanche/ProcureWatch-sub001/schema"
)

type validateResult struct {
	Scanned      int
	Valid        int
	Invalid      int
	Items        int
	Unmappable   int
	EmptyPages   int
	MappingFails map[string]int
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	sourceFlag := fs.String("source", "", "Source the page files belong to: ted, anac or boamp")
	dir := fs.String("dir", "testdata/pages", "Directory containing saved .json page files")
	recursive := fs.Bool("recursive", false, "Recursively scan subdirectories")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	src, err := model.ParseSource(*sourceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --source: %v\n", err)
		return 2
	}

	files, err := collectJSONFiles(strings.TrimSpace(*dir), *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
		return 1
	}

	result := validatePageFiles(src, files)
	for reason, count := range result.MappingFails {
		fmt.Fprintf(os.Stderr, "UNMAPPABLE x%d: %s\n", count, reason)
	}

	fmt.Printf(
		"validate source=%s scanned=%d valid=%d invalid=%d items=%d unmappable=%d empty_pages=%d dir=%s\n",
		src,
		result.Scanned,
		result.Valid,
		result.Invalid,
		result.Items,
		result.Unmappable,
		result.EmptyPages,
		strings.TrimSpace(*dir),
	)

	if result.Scanned == 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: no .json files found under %s\n", strings.TrimSpace(*dir))
		return 1
	}
	if result.Invalid > 0 {
		return 1
	}
	return 0
}

// validatePageFiles schema-checks each file, decodes it and dry-runs the
// mapping so unmappable items show up before an ingest.
func validatePageFiles(src model.Source, files []string) validateResult {
	result := validateResult{MappingFails: map[string]int{}}
	for _, path := range files {
		result.Scanned++

		raw, err := os.ReadFile(path)
		if err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: read failed: %v\n", path, err)
			continue
		}
		if err := payloadschema.ValidatePage(string(src), raw); err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
			continue
		}
		page, err := source.DecodePage(src, raw)
		if err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
			continue
		}

		result.Valid++
		if len(page.Items) == 0 {
			result.EmptyPages++
		}
		for _, item := range page.Items {
			result.Items++
			if _, err := source.Map(item); err != nil {
				result.Unmappable++
				var me *source.MappingError
				if errors.As(err, &me) {
					result.MappingFails[me.Reason]++
				} else {
					result.MappingFails[err.Error()]++
				}
			}
		}
	}
	return result
}

func collectJSONFiles(root string, recursive bool) ([]string, error) {
	cleanRoot := strings.TrimSpace(root)
	if cleanRoot == "" {
		return nil, fmt.Errorf("directory path is empty")
	}

	info, err := os.Stat(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", cleanRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cleanRoot)
	}

	var files []string
	err = filepath.WalkDir(cleanRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path == cleanRoot {
				return nil
			}
			if !recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", cleanRoot, err)
	}

	sort.Strings(files)
	return files, nil
}
