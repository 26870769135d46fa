// Package gitrepo archives every accepted revision of a post's editable fields
// in a per-post git repository.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const snapshotFile = "post.json"

var ErrRevisionNotFound = errors.New("revision not found")

// Snapshot is the archived part of a post. Votes and replies change too often
// to be worth a commit each. Version is the post version the snapshot was
// taken at; archives only move forward in version.
type Snapshot struct {
	Version  int64    `json:"version,omitempty"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type Revision struct {
	Hash      string        `json:"hash"`
	Version   int64         `json:"version,omitempty"`
	Message   string        `json:"message"`
	Author    string        `json:"author"`
	CreatedAt time.Time     `json:"createdAt"`
	Changes   []FieldChange `json:"changes"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitRevision records snapshot as the newest revision of postID, creating
// the repository on first use. Committing an unchanged snapshot, or one whose
// version is not newer than the head's, is a no-op that returns the head.
func (s *Service) CommitRevision(postID string, snapshot Snapshot, author, message string) (Revision, error) {
	lock := s.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(postID)
	if err != nil {
		return Revision{}, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return Revision{}, err
	}
	if head != nil && snapshot.Version > 0 {
		current, err := readSnapshot(head)
		if err != nil {
			return Revision{}, err
		}
		if current.Version >= snapshot.Version {
			return revisionAt(head, current), nil
		}
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}

	if snapshot.Tags == nil {
		snapshot.Tags = []string{}
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return Revision{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Revision{}, fmt.Errorf("git add snapshot: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return Revision{}, fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() && head != nil {
		return revisionAt(head, snapshot), nil
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@users.campusforum.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return revisionAt(commitObj, snapshot), nil
}

// headCommit returns nil for a repository without commits.
func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read head commit: %w", err)
	}
	return commitObj, nil
}

// History returns up to limit revisions, newest first, each with the fields
// it changed relative to its parent. A post without an archive has no history.
func (s *Service) History(postID string, limit int) ([]Revision, error) {
	lock := s.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(postID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		current, changes, err := changesFromParent(commitObj)
		if err != nil {
			return err
		}
		revision := revisionAt(commitObj, current)
		revision.Changes = changes
		items = append(items, revision)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// GetSnapshot reads the snapshot stored at hash, which may be abbreviated.
// It returns ErrRevisionNotFound when postID has no archive or hash names no
// commit in it.
func (s *Service) GetSnapshot(postID, hash string) (Snapshot, error) {
	lock := s.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(postID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, ErrRevisionNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrRevisionNotFound, hash)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readSnapshot(commitObj)
}

func (s *Service) openOrInit(postID string) (*git.Repository, error) {
	path := s.repoPath(postID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(postID string) string {
	return filepath.Join(s.baseDir, postID)
}

func (s *Service) postLock(postID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[postID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[postID] = lock
	return lock
}

func changesFromParent(commitObj *object.Commit) (Snapshot, []FieldChange, error) {
	current, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, nil, err
	}
	if commitObj.NumParents() == 0 {
		return current, DiffFields(Snapshot{}, current), nil
	}
	parent, err := commitObj.Parent(0)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("load parent of %s: %w", commitObj.Hash, err)
	}
	previous, err := readSnapshot(parent)
	if err != nil {
		return Snapshot{}, nil, err
	}
	return current, DiffFields(previous, current), nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(contents), &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

// DiffFields lists the fields that differ between two snapshots in a fixed
// order. Tags are compared as a comma separated list.
func DiffFields(from, to Snapshot) []FieldChange {
	pairs := []FieldChange{
		{Field: "title", Before: from.Title, After: to.Title},
		{Field: "content", Before: from.Content, After: to.Content},
		{Field: "category", Before: from.Category, After: to.Category},
		{Field: "tags", Before: strings.Join(from.Tags, ", "), After: strings.Join(to.Tags, ", ")},
	}
	result := make([]FieldChange, 0, len(pairs))
	for _, item := range pairs {
		if item.Before == item.After {
			continue
		}
		result = append(result, item)
	}
	return result
}

func revisionAt(commitObj *object.Commit, snapshot Snapshot) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Version:   snapshot.Version,
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
		Changes:   []FieldChange{},
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
