package skillrt

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// BundleHash computes the deterministic content hash of a bundle directory:
// sha256 over each file's slash-separated relative path, a NUL, its bytes,
// and a NUL, walked in sorted order. Signature files are excluded so the
// hash can itself be signed.
func BundleHash(dir string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == SignatureFile {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return "", titanerr.Wrap(titanerr.KindInternal, "skillrt.BundleHash", "walk bundle", err)
	}
	sort.Strings(files)

	h := sha256.New()
	for _, rel := range files {
		h.Write([]byte(rel))
		h.Write([]byte{0})
		f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return "", titanerr.Wrap(titanerr.KindInternal, "skillrt.BundleHash", "open "+rel, err)
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", titanerr.Wrap(titanerr.KindInternal, "skillrt.BundleHash", "hash "+rel, err)
		}
		f.Close()
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
