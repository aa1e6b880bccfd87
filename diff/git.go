package diff

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/rs/zerolog"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	furl "github.com/viant/afs/url"
)

// GitDiffer diffs two version trees by committing both snapshots to a
// throwaway repository and diffing the two commits with rename detection,
// so a file moved with byte identical content is reported as a rename
// with certainty rather than a coincidental add and delete pair.
type GitDiffer struct {
	fs  afs.Service
	log zerolog.Logger
}

// Diff implements the Differ contract.
func (d *GitDiffer) Diff(ctx context.Context, oldURL, newURL string) (*Result, error) {
	repoDir, err := os.MkdirTemp("", "theme-diff-")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(repoDir); err != nil {
			d.log.Warn().Err(err).Str("dir", repoDir).Msg("failed to cleanup diff workspace")
		}
	}()

	repo, err := git.PlainInit(repoDir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to init diff repository: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, err
	}

	oldCommit, err := d.commitSnapshot(ctx, worktree, oldURL, repoDir, "old version")
	if err != nil {
		return nil, err
	}
	if err = cleanExceptGit(repoDir); err != nil {
		return nil, err
	}
	newCommit, err := d.commitSnapshot(ctx, worktree, newURL, repoDir, "new version")
	if err != nil {
		return nil, err
	}

	changes, err := d.diffCommits(ctx, repo, oldCommit, newCommit)
	if err != nil {
		return nil, err
	}
	return d.classify(changes)
}

func (d *GitDiffer) commitSnapshot(ctx context.Context, worktree *git.Worktree, sourceURL, repoDir, message string) (plumbing.Hash, error) {
	if err := d.fs.Copy(ctx, sourceURL, furl.Normalize(repoDir, file.Scheme)); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to snapshot %v: %w", sourceURL, err)
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return plumbing.ZeroHash, err
	}
	return worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "themeforge",
			Email: "themeforge@localhost",
			When:  time.Now(),
		},
	})
}

func (d *GitDiffer) diffCommits(ctx context.Context, repo *git.Repository, oldHash, newHash plumbing.Hash) (object.Changes, error) {
	oldCommit, err := repo.CommitObject(oldHash)
	if err != nil {
		return nil, err
	}
	newCommit, err := repo.CommitObject(newHash)
	if err != nil {
		return nil, err
	}
	oldTree, err := oldCommit.Tree()
	if err != nil {
		return nil, err
	}
	newTree, err := newCommit.Tree()
	if err != nil {
		return nil, err
	}
	return object.DiffTreeWithOptions(ctx, oldTree, newTree, object.DefaultDiffTreeOptions)
}

func (d *GitDiffer) classify(changes object.Changes) (*Result, error) {
	result := newResult()
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return nil, err
		}
		oldName, oldInTree := componentName(change.From.Name)
		newName, newInTree := componentName(change.To.Name)
		switch action {
		case merkletrie.Delete:
			if oldInTree {
				result.Deleted = append(result.Deleted, oldName)
			}
		case merkletrie.Insert:
			if newInTree {
				result.Added = append(result.Added, newName)
			}
		case merkletrie.Modify:
			if change.From.Name != change.To.Name {
				// rename detection folded a delete and add into one change
				switch {
				case oldInTree && newInTree:
					result.Renamed[oldName] = newName
				case oldInTree:
					result.Deleted = append(result.Deleted, oldName)
				case newInTree:
					result.Added = append(result.Added, newName)
				}
				continue
			}
			if newInTree {
				result.Modified = append(result.Modified, newName)
			}
		}
	}
	d.log.Debug().
		Int("added", len(result.Added)).
		Int("deleted", len(result.Deleted)).
		Int("renamed", len(result.Renamed)).
		Int("modified", len(result.Modified)).
		Msg("component changes classified")
	return result.normalize(), nil
}

func cleanExceptGit(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name() == git.GitDirName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// NewGitDiffer creates the git backed tree differ
func NewGitDiffer(fs afs.Service, log zerolog.Logger) *GitDiffer {
	return &GitDiffer{fs: fs, log: log}
}
