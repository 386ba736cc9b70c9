// Package fs stores blobs as plain files under a root directory so that
// downloaded data is directly usable by other tools.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cmip6cat/internal/blob/core"
)

const (
	metaSuffix = ".meta"
	tmpPrefix  = ".tmp-"
)

// Store implements core.Store using the local filesystem.
// Keys map to relative paths under the root. A sidecar (path + `.meta`) is
// written only when a Put carries a content type or user metadata.
type Store struct {
	root string
}

// New returns a filesystem-backed blob store rooted at root, creating it if
// needed. The root is made absolute so Locate returns stable paths.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./data"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, err
	}
	return &Store{root: abs}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// Locate returns the absolute path for key.
func (s *Store) Locate(key string) string {
	dataPath, _, err := s.pathFor(key)
	if err != nil {
		return filepath.Join(s.root, key)
	}
	return dataPath
}

// sanitizeKey forbids empty, absolute and escaping keys.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key %q", key)
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(key, "/../") {
		return "", fmt.Errorf("invalid key traversal %q", key)
	}
	if strings.HasSuffix(clean, metaSuffix) {
		return "", fmt.Errorf("reserved key suffix %q", key)
	}
	return clean, nil
}

func (s *Store) pathFor(key string) (dataPath, metaPath string, err error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, filepath.FromSlash(k))
	return dataPath, dataPath + metaSuffix, nil
}

type metaFile struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o750); err != nil {
		return core.Info{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), tmpPrefix+"*")
	if err != nil {
		return core.Info{}, err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	h := sha256.New()
	size, copyErr := io.Copy(io.MultiWriter(tmp, h), readerWithContext(ctx, r))
	if copyErr != nil {
		_ = tmp.Close()
		return core.Info{}, copyErr
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return core.Info{}, err
	}
	if err := tmp.Close(); err != nil {
		return core.Info{}, err
	}
	if err := os.Rename(tmpName, dataPath); err != nil {
		return core.Info{}, err
	}
	now := time.Now().UTC()
	etag := hex.EncodeToString(h.Sum(nil))
	if opts.ContentType != "" || len(opts.Metadata) > 0 {
		mf := metaFile{ContentType: opts.ContentType, Metadata: cloneMetadata(opts.Metadata), ETag: etag, Size: size, UpdatedAt: now}
		if err := writeJSON(metaPath, mf); err != nil {
			return core.Info{}, err
		}
	}
	return core.Info{Key: key, Size: size, ContentType: opts.ContentType, ETag: etag, Metadata: cloneMetadata(opts.Metadata), LastModified: now, Location: dataPath}, nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	file, err := os.Open(info.Location)
	if errors.Is(err, fs.ErrNotExist) {
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	return info, file, nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	return s.info(key, dataPath, metaPath)
}

func (s *Store) info(key, dataPath, metaPath string) (core.Info, error) {
	st, err := os.Stat(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, err
	}
	if st.IsDir() {
		return core.Info{}, fmt.Errorf("blob %s is a directory: %w", key, core.ErrNotFound)
	}
	info := core.Info{Key: key, Size: st.Size(), LastModified: st.ModTime().UTC(), Location: dataPath}
	mf, err := readMeta(metaPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return core.Info{}, err
	case mf.Size == st.Size():
		info.ContentType = mf.ContentType
		info.Metadata = cloneMetadata(mf.Metadata)
		info.ETag = mf.ETag
	}
	return info, nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List walks the root and returns data files whose key has prefix.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, tmpPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.info(key, path, path+metaSuffix)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	if ctx == nil {
		return r
	}
	return ctxReader{ctx: ctx, r: r}
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func readMeta(path string) (metaFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return metaFile{}, err
	}
	var mf metaFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return metaFile{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return mf, nil
}
