// Package gitrepo mirrors recorded versions into one git repository per
// document. Each branch is a git branch named by its public id and every
// version is a commit of content.txt.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	contentFile = "content.txt"
	rootBranch  = "root"
)

var ErrNotArchived = errors.New("gitrepo: document not archived")

// Record describes one version to mirror.
type Record struct {
	DocumentID string
	BranchID   string
	// FromBranchID seeds a branch that does not exist yet from the head of
	// another branch, so its log shows where it was forked.
	FromBranchID string
	VersionID    string
	AuthorID     int64
	Kind         string
	Name         string
	Content      string
	When         time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	VersionID string
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

// Record commits rec.Content on rec.BranchID, creating the repository and
// the branch on first use. Every call produces a commit, even when the
// content is unchanged.
func (s *Service) Record(rec Record) (CommitInfo, error) {
	lock := s.documentLock(rec.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(rec.DocumentID)
	if err != nil {
		return CommitInfo{}, err
	}

	if rec.FromBranchID != "" {
		if err := forkBranch(repo, rec.BranchID, rec.FromBranchID); err != nil {
			return CommitInfo{}, err
		}
	}

	when := rec.When
	if when.IsZero() {
		when = time.Now()
	}
	hash, err := commit(repo, rec.BranchID, rec.Content, authorSignature(rec.AuthorID, when), commitMessage(rec))
	if err != nil {
		return CommitInfo{}, err
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists commits on a branch, newest first.
func (s *Service) History(documentID, branchID string, limit int) ([]CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return nil, err
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchID), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("%w: branch %s", ErrNotArchived, branchID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branchID, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		info := toCommitInfo(commitObj)
		if info.VersionID == "" {
			// The repository root commit carries no version.
			return nil
		}
		items = append(items, info)
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

// ContentAt returns content.txt as of the given commit hash or prefix.
func (s *Service) ContentAt(documentID, hash string) (string, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return "", err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContent(commitObj)
}

// DeleteBranch removes the git branch ref. Commits stay reachable from any
// branch forked off it.
func (s *Service) DeleteBranch(documentID, branchID string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if errors.Is(err, ErrNotArchived) {
		return nil
	}
	if err != nil {
		return err
	}

	refName := plumbing.NewBranchReferenceName(branchID)
	head, err := repo.Storer.Reference(plumbing.HEAD)
	if err == nil && head.Type() == plumbing.SymbolicReference && head.Target() == refName {
		root := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(rootBranch))
		if err := repo.Storer.SetReference(root); err != nil {
			return fmt.Errorf("reset HEAD: %w", err)
		}
	}
	if err := repo.Storer.RemoveReference(refName); err != nil {
		return fmt.Errorf("remove branch ref: %w", err)
	}
	return nil
}

// DeleteDocument removes the document's repository from disk.
func (s *Service) DeleteDocument(documentID string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(documentID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func (s *Service) open(documentID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNotArchived
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

// openOrInit opens the repository, creating it with an empty root commit
// on refs/heads/root when missing.
func (s *Service) openOrInit(documentID string) (*git.Repository, error) {
	repo, err := s.open(documentID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNotArchived) {
		return nil, err
	}

	path := s.repoPath(documentID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	rootRef := plumbing.NewBranchReferenceName(rootBranch)
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, rootRef)); err != nil {
		return nil, fmt.Errorf("set HEAD to root: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, contentFile), nil, 0o644); err != nil {
		return nil, fmt.Errorf("write root content: %w", err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return nil, fmt.Errorf("git add root content: %w", err)
	}
	if _, err := worktree.Commit("Initialize version archive", &git.CommitOptions{
		Author: &object.Signature{Name: "folio", Email: "archive@folio.local", When: time.Now()},
	}); err != nil {
		return nil, fmt.Errorf("commit root: %w", err)
	}
	return repo, nil
}

func forkBranch(repo *git.Repository, branchID, fromBranchID string) error {
	branchRef := plumbing.NewBranchReferenceName(branchID)
	if _, err := repo.Reference(branchRef, true); err == nil {
		return nil
	}
	fromRef, err := repo.Reference(plumbing.NewBranchReferenceName(fromBranchID), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		// Source was never archived; the branch starts from root instead.
		return nil
	}
	if err != nil {
		return fmt.Errorf("read source branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, fromRef.Hash())); err != nil {
		return fmt.Errorf("create branch ref: %w", err)
	}
	return nil
}

func commit(repo *git.Repository, branchID, content string, author *object.Signature, message string) (plumbing.Hash, error) {
	if err := checkoutBranch(repo, branchID); err != nil {
		return plumbing.ZeroHash, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), []byte(content), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            author,
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func checkoutBranch(repo *git.Repository, branchID string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(branchID)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("resolve branch %s: %w", branchID, err)
		}
		root, err := repo.Reference(plumbing.NewBranchReferenceName(rootBranch), true)
		if err != nil {
			return fmt.Errorf("resolve root branch: %w", err)
		}
		if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Hash: root.Hash(), Create: true, Force: true}); err != nil {
			return fmt.Errorf("create branch checkout %s: %w", branchID, err)
		}
		return nil
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branchID, err)
	}
	return nil
}

func readContent(commitObj *object.Commit) (string, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	return file.Contents()
}

func commitMessage(rec Record) string {
	subject := rec.Kind
	if rec.Name != "" {
		subject += ": " + rec.Name
	}
	return fmt.Sprintf("%s\n\nversion: %s\nbranch: %s\n", subject, rec.VersionID, rec.BranchID)
}

func authorSignature(userID int64, when time.Time) *object.Signature {
	id := strconv.FormatInt(userID, 10)
	return &object.Signature{
		Name:  "user-" + id,
		Email: id + "@users.folio.local",
		When:  when,
	}
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
		VersionID: trailer(commitObj.Message, "version: "),
	}
}

func trailer(message, key string) string {
	for _, line := range strings.Split(message, "\n") {
		if v, ok := strings.CutPrefix(line, key); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
