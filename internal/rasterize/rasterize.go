// Package rasterize turns a document into an ordered sequence of page
// images for C7 (Image Extractor). PDFs are rendered page-by-page through
// the external poppler `pdftoppm` binary, the same approach tools like
// Python's pdf2image use when no pure-Go PDF rasterizer is available; plain
// image documents pass through as a single page after a downscale pass.
package rasterize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoding
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	ximagedraw "golang.org/x/image/draw"
)

// Page is one rendered page, JPEG-encoded.
type Page struct {
	Index int // 0-based page number within the document
	Bytes []byte
}

// Options configures rasterization.
type Options struct {
	// PdftoppmPath locates the pdftoppm binary. Defaults to "pdftoppm"
	// resolved via PATH.
	PdftoppmPath string

	// DPI is the rendering resolution passed to pdftoppm. Default 150.
	DPI int

	// MaxDimensionPx bounds the longest edge of the page image after
	// downscaling. Default 1568, matching common multimodal LLM limits.
	MaxDimensionPx int
}

func (o Options) withDefaults() Options {
	if o.PdftoppmPath == "" {
		o.PdftoppmPath = "pdftoppm"
	}
	if o.DPI <= 0 {
		o.DPI = 150
	}
	if o.MaxDimensionPx <= 0 {
		o.MaxDimensionPx = 1568
	}
	return o
}

// RasterizePDF renders every page of a PDF to a downscaled JPEG, in page
// order. It shells out to pdftoppm because no pack dependency rasterizes
// PDF pages; this is the one external-process boundary in the repo.
func RasterizePDF(ctx context.Context, pdfBytes []byte, opts Options) ([]Page, error) {
	opts = opts.withDefaults()

	tmpDir, err := os.MkdirTemp("", "rasterize-*")
	if err != nil {
		return nil, fmt.Errorf("rasterize: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inputPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(inputPath, pdfBytes, 0o600); err != nil {
		return nil, fmt.Errorf("rasterize: write input: %w", err)
	}

	outPrefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, opts.PdftoppmPath,
		"-jpeg", "-r", strconv.Itoa(opts.DPI), inputPath, outPrefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("rasterize: pdftoppm failed: %w: %s", err, stderr.String())
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("rasterize: read output dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "page") && strings.HasSuffix(e.Name(), ".jpg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	pages := make([]Page, 0, len(names))
	for i, name := range names {
		raw, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			return nil, fmt.Errorf("rasterize: read page %s: %w", name, err)
		}
		scaled, err := downscale(raw, opts.MaxDimensionPx)
		if err != nil {
			return nil, fmt.Errorf("rasterize: downscale page %d: %w", i, err)
		}
		pages = append(pages, Page{Index: i, Bytes: scaled})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("rasterize: pdftoppm produced no pages")
	}
	return pages, nil
}

// RasterizeImage wraps a single already-rasterized image (PNG/JPEG/etc) as
// a one-page document, downscaling if it exceeds MaxDimensionPx.
func RasterizeImage(imgBytes []byte, opts Options) (Page, error) {
	opts = opts.withDefaults()
	scaled, err := downscale(imgBytes, opts.MaxDimensionPx)
	if err != nil {
		return Page{}, fmt.Errorf("rasterize: downscale image: %w", err)
	}
	return Page{Index: 0, Bytes: scaled}, nil
}

// downscale decodes img, and if either dimension exceeds maxDim, scales it
// down (preserving aspect ratio) using bilinear interpolation, then
// re-encodes as JPEG. Images already within bounds are returned unchanged.
func downscale(imgBytes []byte, maxDim int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxDim && height <= maxDim {
		return imgBytes, nil
	}

	scale := float64(maxDim) / float64(width)
	if height > width {
		scale = float64(maxDim) / float64(height)
	}
	newWidth := int(float64(width) * scale)
	newHeight := int(float64(height) * scale)
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	ximagedraw.BiLinear.Scale(dst, dst.Bounds(), src, bounds, ximagedraw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return out.Bytes(), nil
}
