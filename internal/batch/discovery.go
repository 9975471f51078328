package batch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MeKo-Tech/omr/internal/storage"
	"github.com/MeKo-Tech/omr/internal/utils"
)

// Input is one discovered sheet file. Remote inputs carry the source they
// are fetched from.
type Input struct {
	Path   string
	PDF    bool
	remote *storage.S3Source
	key    string
}

// S3Opener returns a source for a bucket and prefix.
type S3Opener func(ctx context.Context, bucket, prefix string) (*storage.S3Source, error)

// discoverInputs expands files, directories, glob patterns and s3:// URLs
// into sheet inputs. Local directories yield their files in lexical order.
func discoverInputs(ctx context.Context, args []string, cfg *Config, openS3 S3Opener) ([]Input, error) {
	var inputs []Input
	seen := make(map[string]bool)
	add := func(in Input) {
		if !seen[in.Path] {
			seen[in.Path] = true
			inputs = append(inputs, in)
		}
	}

	for _, arg := range args {
		if storage.IsS3URL(arg) {
			found, err := discoverS3(ctx, arg, cfg, openS3)
			if err != nil {
				return nil, err
			}
			for _, in := range found {
				add(in)
			}
			continue
		}

		paths, err := expandLocal(arg, cfg)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			add(Input{Path: p, PDF: utils.IsPDF(p)})
		}
	}
	return inputs, nil
}

func expandLocal(arg string, cfg *Config) ([]string, error) {
	info, err := os.Stat(arg)
	if err != nil {
		if !hasGlobMeta(arg) {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		matches, gerr := filepath.Glob(arg)
		if gerr != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", arg, gerr)
		}
		var out []string
		for _, m := range matches {
			if isSheetFile(m) && shouldIncludeFile(m, cfg.IncludePatterns, cfg.ExcludePatterns) {
				out = append(out, m)
			}
		}
		return out, nil
	}

	if info.IsDir() {
		return discoverInDirectory(arg, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	}
	if !isSheetFile(arg) {
		return nil, fmt.Errorf("unsupported input file: %s", arg)
	}
	if !shouldIncludeFile(arg, cfg.IncludePatterns, cfg.ExcludePatterns) {
		return nil, nil
	}
	return []string{arg}, nil
}

// discoverInDirectory walks dir and returns supported sheet files.
func discoverInDirectory(dir string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if isSheetFile(path) && shouldIncludeFile(path, includePatterns, excludePatterns) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func discoverS3(ctx context.Context, url string, cfg *Config, openS3 S3Opener) ([]Input, error) {
	if openS3 == nil {
		return nil, fmt.Errorf("s3 input %s: no object storage configured", url)
	}
	bucket, prefix, err := storage.ParseS3URL(url)
	if err != nil {
		return nil, err
	}
	src, err := openS3(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	keys, err := src.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Input
	for _, k := range keys {
		if !shouldIncludeFile(k, cfg.IncludePatterns, cfg.ExcludePatterns) {
			continue
		}
		out = append(out, Input{Path: src.URL(k), PDF: utils.IsPDF(k), remote: src, key: k})
	}
	return out, nil
}

func isSheetFile(path string) bool {
	return utils.IsSupportedImage(path) || utils.IsPDF(path)
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// shouldIncludeFile applies exclude patterns first, then include patterns.
// No include patterns includes everything not excluded.
func shouldIncludeFile(path string, includePatterns, excludePatterns []string) bool {
	if matchesAnyPattern(path, excludePatterns) {
		return false
	}
	if len(includePatterns) == 0 {
		return true
	}
	return matchesAnyPattern(path, includePatterns)
}

// matchesAnyPattern matches the base name of path against the patterns.
func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
