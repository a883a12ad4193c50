// Package vault adapts the on-disk document corpus: reading documents,
// extracting YAML frontmatter metadata, and content hashing.
package vault

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kimvales/vaultsync/internal/errors"
)

// Document is a vault file prepared for the pipeline.
type Document struct {
	// Path is the document's stable identity, relative to the vault root
	// with forward slashes.
	Path string

	Content     string
	Frontmatter map[string]interface{}
	ContentHash string
	ModifiedAt  int64
	SizeBytes   int64
}

// Vault reads documents from a root directory.
type Vault struct {
	root string
}

// New creates a Vault rooted at dir.
func New(dir string) *Vault {
	return &Vault{root: dir}
}

// Root returns the vault root directory.
func (v *Vault) Root() string {
	return v.root
}

// Read loads and prepares one document by its vault-relative path.
func (v *Vault) Read(path string) (*Document, error) {
	abs := filepath.Join(v.root, filepath.FromSlash(path))

	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrap(errors.ErrVaultReadFailed, "failed to stat document", err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.Wrap(errors.ErrVaultReadFailed, "failed to read document", err)
	}

	doc := &Document{
		Path:        path,
		Content:     string(data),
		ContentHash: CalculateHash(data),
		ModifiedAt:  info.ModTime().UnixMilli(),
		SizeBytes:   info.Size(),
	}

	fm, body, err := ParseFrontmatter(data)
	if err != nil {
		// Malformed frontmatter is a metadata problem, not a read
		// failure; the document still syncs with its raw content.
		return doc, errors.Wrap(errors.ErrVaultMetadata, "failed to parse frontmatter", err)
	}
	doc.Frontmatter = fm
	doc.Content = string(body)

	return doc, nil
}

// List walks the vault and returns all document paths (forward-slashed,
// relative to the root), skipping dot-directories.
func (v *Vault) List() ([]string, error) {
	var paths []string

	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != v.root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrVaultReadFailed, "failed to list vault", err)
	}

	return paths, nil
}

// CalculateHash calculates the SHA-256 hash of document content.
func CalculateHash(data []byte) string {
	h := sha256.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

var frontmatterDelim = []byte("---")

// ParseFrontmatter splits YAML frontmatter from the document body. Documents
// without a frontmatter block return a nil map and the unchanged content.
func ParseFrontmatter(data []byte) (map[string]interface{}, []byte, error) {
	if !bytes.HasPrefix(data, frontmatterDelim) {
		return nil, data, nil
	}

	rest := data[len(frontmatterDelim):]
	// The opening delimiter must terminate its line.
	if len(rest) == 0 || (rest[0] != '\n' && !bytes.HasPrefix(rest, []byte("\r\n"))) {
		return nil, data, nil
	}

	idx := bytes.Index(rest, []byte("\n---"))
	if idx < 0 {
		return nil, data, nil
	}

	block := rest[:idx]
	body := rest[idx+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}

	var fm map[string]interface{}
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, data, err
	}

	return fm, body, nil
}
