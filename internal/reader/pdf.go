package reader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"docchat/internal/model"
)

const pageReadConcurrency = 4

// readPDF extracts the whole document as a single unit.
func readPDF(path string) ([]model.Unit, error) {
	text, err := pdfText(path)
	if err != nil {
		return nil, err
	}
	return []model.Unit{{
		Text: text,
		Metadata: map[string]string{
			"file_name": filepath.Base(path),
			"source":    path,
		},
	}}, nil
}

// readPDFPages repairs the file with pdfcpu, splits it into single pages and extracts each
// page on its own. Pages without text are dropped.
func readPDFPages(ctx context.Context, path string) ([]model.Unit, error) {
	tempDir, err := os.MkdirTemp("", "docchat-pages-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir failed: %w", err)
	}
	defer os.RemoveAll(tempDir)

	optimized := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(path, optimized); err != nil {
		return nil, fmt.Errorf("validate/optimize pdf failed: %w", err)
	}
	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return nil, fmt.Errorf("count pages failed: %w", err)
	}
	if err := api.SplitFile(optimized, tempDir, 1, nil); err != nil {
		return nil, fmt.Errorf("split pdf failed: %w", err)
	}

	base := strings.TrimSuffix(optimized, filepath.Ext(optimized))
	units := make([]model.Unit, pageCount)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(pageReadConcurrency)
	for i := 1; i <= pageCount; i++ {
		pageNumber := i
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := pdfText(fmt.Sprintf("%s_%d.pdf", base, pageNumber))
			if err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			units[pageNumber-1] = model.Unit{
				Text: text,
				Metadata: map[string]string{
					"file_name": filepath.Base(path),
					"source":    path,
					"page":      strconv.Itoa(pageNumber),
				},
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return units, nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := pdfmodel.NewDefaultConfiguration()
	cfg.ValidationMode = pdfmodel.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf failed: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text failed: %w", err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text failed: %w", err)
	}
	return string(out), nil
}
