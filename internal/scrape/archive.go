package scrape

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// Archive keeps downloaded XML on disk, xz-compressed, one file per PMCID.
type Archive struct {
	dir string
}

// NewArchive creates dir if needed.
func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Path returns the file an article is stored in.
func (a *Archive) Path(pmcid string) string {
	return filepath.Join(a.dir, "PMC"+strings.TrimPrefix(pmcid, "PMC")+".xml.xz")
}

// Put compresses data and writes it atomically.
func (a *Archive) Put(pmcid string, data []byte) error {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("create xz writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("compress %s: %w", pmcid, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", pmcid, err)
	}

	path := a.Path(pmcid)
	tmp, err := os.CreateTemp(a.dir, ".archive-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Get returns the decompressed XML. A missing article yields an error
// matching os.ErrNotExist.
func (a *Archive) Get(pmcid string) ([]byte, error) {
	f, err := os.Open(a.Path(pmcid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open xz stream: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", pmcid, err)
	}
	return data, nil
}

// Has reports whether the article is archived.
func (a *Archive) Has(pmcid string) bool {
	_, err := os.Stat(a.Path(pmcid))
	return err == nil
}
