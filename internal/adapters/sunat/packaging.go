package sunat

import (
	"archive/zip"
	"bytes"
	"fmt"

	"3tcapital/ms_facturacion_sunat/internal/core/authority"
)

// Package zips a single document as {base}.xml next to an empty dummy/ entry.
func Package(base string, content []byte) ([]byte, error) {
	return PackBatch([]authority.File{{BaseName: base, Content: content}})
}

// PackBatch zips several documents for sendPack.
func PackBatch(files []authority.File) ([]byte, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("empty package")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("dummy/"); err != nil {
		return nil, fmt.Errorf("create dummy entry: %w", err)
	}
	for _, f := range files {
		w, err := zw.Create(f.BaseName + ".xml")
		if err != nil {
			return nil, fmt.Errorf("create entry %s: %w", f.BaseName, err)
		}
		if _, err := w.Write(f.Content); err != nil {
			return nil, fmt.Errorf("write entry %s: %w", f.BaseName, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}
