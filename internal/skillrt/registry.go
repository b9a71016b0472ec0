package skillrt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// RegistryEntry is one published skill in a registry index.
type RegistryEntry struct {
	Slug        string `json:"slug"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Hash        string `json:"hash"`
	Location    string `json:"location"` // directory, git URL, or HTTP base
}

// Registry fetches skill bundles into a staging directory. Adapters exist
// for a local directory tree, a git clone, and an HTTP index.
type Registry interface {
	// Search lists entries matching the query ("" matches everything).
	Search(ctx context.Context, query string) ([]RegistryEntry, error)
	// Fetch stages the bundle for slug into destDir and returns the entry
	// with the registry-declared content hash.
	Fetch(ctx context.Context, slug, destDir string) (*RegistryEntry, error)
}

// DirRegistry serves bundles from a local directory: one subdirectory per
// slug, each with a manifest.yaml.
type DirRegistry struct {
	Root string
}

func (r *DirRegistry) Search(ctx context.Context, query string) ([]RegistryEntry, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.DirRegistry", "read registry root", err)
	}
	var out []RegistryEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(r.Root, e.Name())
		m, err := LoadManifest(dir)
		if err != nil {
			continue
		}
		if query != "" && !strings.Contains(m.Slug, query) && !strings.Contains(m.Description, query) {
			continue
		}
		hash, err := BundleHash(dir)
		if err != nil {
			continue
		}
		out = append(out, RegistryEntry{
			Slug: m.Slug, Version: m.Version, Description: m.Description,
			Hash: hash, Location: dir,
		})
	}
	return out, nil
}

func (r *DirRegistry) Fetch(ctx context.Context, slug, destDir string) (*RegistryEntry, error) {
	src := filepath.Join(r.Root, slug)
	m, err := LoadManifest(src)
	if err != nil {
		return nil, err
	}
	if err := copyTree(src, destDir); err != nil {
		return nil, err
	}
	hash, err := BundleHash(src)
	if err != nil {
		return nil, err
	}
	return &RegistryEntry{Slug: m.Slug, Version: m.Version, Description: m.Description, Hash: hash, Location: src}, nil
}

// GitRegistry clones a repository whose top level is the bundle.
type GitRegistry struct {
	URL string
}

func (r *GitRegistry) Search(ctx context.Context, query string) ([]RegistryEntry, error) {
	return nil, titanerr.New(titanerr.KindValidation, "skillrt.GitRegistry", "git registries do not support search; install by URL")
}

func (r *GitRegistry) Fetch(ctx context.Context, slug, destDir string) (*RegistryEntry, error) {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", r.URL, destDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, titanerr.Wrap(titanerr.KindTransient, "skillrt.GitRegistry",
			"git clone failed: "+strings.TrimSpace(string(out)), err)
	}
	os.RemoveAll(filepath.Join(destDir, ".git"))
	m, err := LoadManifest(destDir)
	if err != nil {
		return nil, err
	}
	hash, err := BundleHash(destDir)
	if err != nil {
		return nil, err
	}
	return &RegistryEntry{Slug: m.Slug, Version: m.Version, Description: m.Description, Hash: hash, Location: r.URL}, nil
}

// HTTPRegistry serves an index.json of RegistryEntry plus one
// <slug>.bundle.json per skill: a flat {relative path: file content}
// object, which keeps the transport dependency-free.
type HTTPRegistry struct {
	BaseURL string
	Client  *http.Client
}

func (r *HTTPRegistry) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

func (r *HTTPRegistry) Search(ctx context.Context, query string) ([]RegistryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/index.json", nil)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.HTTPRegistry", "build index request", err)
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindTransient, "skillrt.HTTPRegistry", "fetch index", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, titanerr.New(titanerr.KindTransient, "skillrt.HTTPRegistry",
			fmt.Sprintf("index returned %d", resp.StatusCode))
	}
	var all []RegistryEntry
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.HTTPRegistry", "parse index", err)
	}
	if query == "" {
		return all, nil
	}
	var out []RegistryEntry
	for _, e := range all {
		if strings.Contains(e.Slug, query) || strings.Contains(e.Description, query) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *HTTPRegistry) Fetch(ctx context.Context, slug, destDir string) (*RegistryEntry, error) {
	entries, err := r.Search(ctx, "")
	if err != nil {
		return nil, err
	}
	var entry *RegistryEntry
	for i := range entries {
		if entries[i].Slug == slug {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return nil, titanerr.New(titanerr.KindNotFound, "skillrt.HTTPRegistry", "no skill "+slug+" in index")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/"+slug+".bundle.json", nil)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.HTTPRegistry", "build bundle request", err)
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindTransient, "skillrt.HTTPRegistry", "fetch bundle", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, titanerr.New(titanerr.KindTransient, "skillrt.HTTPRegistry",
			fmt.Sprintf("bundle fetch returned %d", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindTransient, "skillrt.HTTPRegistry", "read bundle", err)
	}
	var files map[string]string
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.HTTPRegistry", "parse bundle", err)
	}
	for rel, content := range files {
		if strings.Contains(rel, "..") {
			return nil, titanerr.New(titanerr.KindSandbox, "skillrt.HTTPRegistry", "bundle path escapes: "+rel)
		}
		target := filepath.Join(destDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "skillrt.HTTPRegistry", "stage "+rel, err)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return nil, titanerr.Wrap(titanerr.KindInternal, "skillrt.HTTPRegistry", "write "+rel, err)
		}
	}
	return entry, nil
}

// OpenRegistry picks an adapter from a source string: an existing directory,
// a git URL, or an HTTP index base.
func OpenRegistry(source string) (Registry, error) {
	if info, err := os.Stat(source); err == nil && info.IsDir() {
		return &DirRegistry{Root: source}, nil
	}
	if strings.HasSuffix(source, ".git") || strings.HasPrefix(source, "git@") {
		return &GitRegistry{URL: source}, nil
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return &HTTPRegistry{BaseURL: strings.TrimSuffix(source, "/")}, nil
	}
	return nil, titanerr.New(titanerr.KindValidation, "skillrt.OpenRegistry", "unrecognized registry source "+source)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
