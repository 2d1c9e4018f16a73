package assemble

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// composePDF imports rendered page images, in order, into a single PDF
// and returns its bytes. pdfcpu's import works on files, so the pages
// round-trip through a temp directory.
func composePDF(pages [][]byte) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to compose")
	}

	dir, err := os.MkdirTemp("", "fable-assemble-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	paths := make([]string, len(pages))
	for i, data := range pages {
		paths[i] = filepath.Join(dir, fmt.Sprintf("page-%03d.png", i))
		if err := os.WriteFile(paths[i], data, 0o644); err != nil {
			return nil, fmt.Errorf("write page image %d: %w", i, err)
		}
	}

	outPath := filepath.Join(dir, "artifact.pdf")
	if err := api.ImportImagesFile(paths, outPath, nil, nil); err != nil {
		return nil, fmt.Errorf("import page images: %w", err)
	}

	pdf, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read composed pdf: %w", err)
	}
	return pdf, nil
}
