package app

import (
	"context"
	"errors"
	"strings"

	"folio/api/internal/gitrepo"
	"folio/api/internal/rbac"
	"folio/api/internal/store"
)

const (
	minCommitPrefix = 7
	maxCommitHash   = 40
)

// ArchiveHistory lists the archived commits of a branch, newest first. The
// archive keeps versions a restore dropped, so only collaborators may read it.
func (s *Service) ArchiveHistory(ctx context.Context, userID int64, documentID, branchID string, limit int) (commits []gitrepo.CommitInfo, err error) {
	ctx, span := startSpan(ctx, "ArchiveHistory")
	defer func() { endSpan(span, err) }()

	if limit < 0 {
		return nil, invalidArgument("limit must not be negative")
	}
	doc, branch, err := s.archivedBranch(ctx, userID, documentID, branchID)
	if err != nil {
		return nil, err
	}
	commits, err = s.archive.History(doc.PublicID, branch.PublicID, limit)
	if err != nil {
		return nil, archiveError(err)
	}
	return commits, nil
}

// ArchiveContent returns the content of one archived commit on the branch.
// hash may be abbreviated.
func (s *Service) ArchiveContent(ctx context.Context, userID int64, documentID, branchID, hash string) (commit gitrepo.CommitInfo, content string, err error) {
	ctx, span := startSpan(ctx, "ArchiveContent")
	defer func() { endSpan(span, err) }()

	hash = strings.ToLower(strings.TrimSpace(hash))
	if !validCommitHash(hash) {
		return gitrepo.CommitInfo{}, "", invalidArgument("commit must be %d to %d hex characters", minCommitPrefix, maxCommitHash)
	}
	doc, branch, err := s.archivedBranch(ctx, userID, documentID, branchID)
	if err != nil {
		return gitrepo.CommitInfo{}, "", err
	}
	history, err := s.archive.History(doc.PublicID, branch.PublicID, 0)
	if err != nil {
		return gitrepo.CommitInfo{}, "", archiveError(err)
	}
	// Commits are resolved against the branch log so a hash from another
	// branch of the document is not found here.
	for _, c := range history {
		if strings.HasPrefix(c.Hash, hash) {
			content, err := s.archive.ContentAt(doc.PublicID, c.Hash)
			if err != nil {
				return gitrepo.CommitInfo{}, "", archiveError(err)
			}
			return c, content, nil
		}
	}
	return gitrepo.CommitInfo{}, "", ErrNotFound
}

func (s *Service) archivedBranch(ctx context.Context, userID int64, documentID, branchID string) (store.Document, store.Branch, error) {
	doc, err := s.loadDocument(ctx, s.store, documentID)
	if err != nil {
		return store.Document{}, store.Branch{}, err
	}
	if err := rbac.CheckVisible(userID, doc); err != nil {
		return store.Document{}, store.Branch{}, err
	}
	branch, err := s.loadBranch(ctx, s.store, doc, branchID)
	if err != nil {
		return store.Document{}, store.Branch{}, err
	}
	if s.archive == nil {
		return store.Document{}, store.Branch{}, ErrArchiveDisabled
	}
	return doc, branch, nil
}

func archiveError(err error) error {
	if errors.Is(err, gitrepo.ErrNotArchived) {
		return ErrNotFound
	}
	return err
}

func validCommitHash(hash string) bool {
	if len(hash) < minCommitPrefix || len(hash) > maxCommitHash {
		return false
	}
	for _, r := range hash {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
