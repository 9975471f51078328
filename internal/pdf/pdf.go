// Package pdf pulls the scanned page images out of PDF uploads so each page
// can be graded as one sheet.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/MeKo-Tech/omr/internal/utils"
)

// ErrNoImages is returned when the selected pages carry no raster image.
var ErrNoImages = errors.New("pdf contains no page images")

// Page is one image found on a PDF page. Scanners embed one image per page;
// Index tells several images on the same page apart.
type Page struct {
	Number int         `json:"page"`
	Index  int         `json:"index"`
	Name   string      `json:"name"`
	Image  image.Image `json:"-"`
}

// Extractor extracts page images. The zero value works for unencrypted files.
type Extractor struct {
	UserPassword  string
	OwnerPassword string
	// MaxPages caps the number of images returned; 0 means no cap.
	MaxPages int
}

func (e *Extractor) configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	if e.UserPassword != "" {
		conf.UserPW = e.UserPassword
	}
	if e.OwnerPassword != "" {
		conf.OwnerPW = e.OwnerPassword
	}
	return conf
}

// PageCount returns the number of pages of the document at path.
func (e *Extractor) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, wrapPDFError(err)
	}
	return n, nil
}

// ExtractFile returns the page images of the PDF at path ordered by page
// and image index. pageRange selects pages like "1-3,5"; empty means all.
func (e *Extractor) ExtractFile(ctx context.Context, path, pageRange string) ([]Page, error) {
	pages, err := ParsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}
	var selected []string
	for _, p := range pages {
		selected = append(selected, strconv.Itoa(p))
	}

	dir, err := os.MkdirTemp("", "omr-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	if err := api.ExtractImagesFile(path, dir, selected, e.configuration()); err != nil {
		return nil, wrapPDFError(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out, err := collectPages(ctx, dir, base)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoImages
	}
	if e.MaxPages > 0 && len(out) > e.MaxPages {
		out = out[:e.MaxPages]
	}
	return out, nil
}

// ExtractBytes is ExtractFile for an in-memory document.
func (e *Extractor) ExtractBytes(ctx context.Context, data []byte, pageRange string) ([]Page, error) {
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, errors.New("not a PDF document")
	}
	f, err := os.CreateTemp("", "omr-upload-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	defer func() { _ = os.Remove(name) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return e.ExtractFile(ctx, name, pageRange)
}

// collectPages decodes every extracted image in dir. Files whose page
// number cannot be recovered or that fail to decode are skipped.
func collectPages(ctx context.Context, dir, base string) ([]Page, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Page
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		num, ok := pageFromFilename(ent.Name(), base)
		if !ok {
			continue
		}
		img, _, err := utils.LoadImage(filepath.Join(dir, ent.Name()))
		if err != nil {
			continue
		}
		out = append(out, Page{Number: num, Name: ent.Name(), Image: img})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].Name < out[j].Name
	})
	for i := range out {
		if i > 0 && out[i].Number == out[i-1].Number {
			out[i].Index = out[i-1].Index + 1
		}
	}
	return out, nil
}

// pageFromFilename recovers the page number from an extracted image name,
// which is either "<base>_<page>_<image>.<ext>" or "page_<page>_...".
func pageFromFilename(name, base string) (int, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	switch {
	case base != "" && strings.HasPrefix(stem, base+"_"):
		stem = strings.TrimPrefix(stem, base+"_")
	case strings.HasPrefix(stem, "page_"):
		stem = strings.TrimPrefix(stem, "page_")
	default:
		return 0, false
	}
	digits, _, _ := strings.Cut(stem, "_")
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func wrapPDFError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "password") || strings.Contains(msg, "encrypt") || strings.Contains(msg, "decrypt") {
		return fmt.Errorf("pdf is encrypted, a valid password is required: %w", err)
	}
	return fmt.Errorf("read pdf: %w", err)
}
