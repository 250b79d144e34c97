package runtime

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extract unpacks a bundle archive into dir. Entries that would escape dir
// are rejected.
func extract(bundlePath, dir string) error {
	zr, err := zip.OpenReader(bundlePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("opening bundle %s: %w", bundlePath, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := extractFile(f, dir); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dir string) error {
	dest := filepath.Join(dir, filepath.Clean(f.Name))
	if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
		return fmt.Errorf("bundle entry %q escapes extraction dir", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening bundle entry %q: %w", f.Name, err)
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode()|0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("extracting %q: %w", f.Name, err)
	}
	return nil
}
