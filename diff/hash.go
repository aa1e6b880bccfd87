package diff

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/viant/afs"
	furl "github.com/viant/afs/url"
)

// HashDiffer is the version control free implementation of the Differ
// contract: every component file is hashed, equal digest delete and add
// pairs become renames, path identity decides modify.
type HashDiffer struct {
	fs afs.Service
}

// Diff implements the Differ contract.
func (d *HashDiffer) Diff(ctx context.Context, oldURL, newURL string) (*Result, error) {
	oldSums, err := d.checksums(ctx, oldURL)
	if err != nil {
		return nil, err
	}
	newSums, err := d.checksums(ctx, newURL)
	if err != nil {
		return nil, err
	}

	result := newResult()
	deleted := make([]string, 0)
	added := make([]string, 0)
	for name, oldSum := range oldSums {
		newSum, ok := newSums[name]
		switch {
		case !ok:
			deleted = append(deleted, name)
		case newSum != oldSum:
			result.Modified = append(result.Modified, name)
		}
	}
	for name := range newSums {
		if _, ok := oldSums[name]; !ok {
			added = append(added, name)
		}
	}
	sort.Strings(deleted)
	sort.Strings(added)

	// pair equal digests as renames, first deleted first matched
	matched := map[string]bool{}
	for _, oldName := range deleted {
		for _, newName := range added {
			if matched[newName] {
				continue
			}
			if newSums[newName] == oldSums[oldName] {
				result.Renamed[oldName] = newName
				matched[newName] = true
				break
			}
		}
	}
	for _, name := range deleted {
		if _, ok := result.Renamed[name]; !ok {
			result.Deleted = append(result.Deleted, name)
		}
	}
	for _, name := range added {
		if !matched[name] {
			result.Added = append(result.Added, name)
		}
	}
	return result.normalize(), nil
}

func (d *HashDiffer) checksums(ctx context.Context, baseURL string) (map[string]string, error) {
	ret := map[string]string{}
	componentsURL := furl.Join(baseURL, "components")
	if ok, _ := d.fs.Exists(ctx, componentsURL); !ok {
		return ret, nil
	}
	objects, err := d.fs.List(ctx, componentsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list %v: %w", componentsURL, err)
	}
	for _, object := range objects {
		if object.IsDir() {
			continue
		}
		data, err := d.fs.DownloadWithURL(ctx, object.URL())
		if err != nil {
			return nil, err
		}
		digest := sha256.Sum256(data)
		name, _ := componentName(componentsPrefix + object.Name())
		ret[name] = hex.EncodeToString(digest[:])
	}
	return ret, nil
}

// NewHashDiffer creates the content hash tree differ
func NewHashDiffer(fs afs.Service) *HashDiffer {
	return &HashDiffer{fs: fs}
}
