package app

import (
	"context"
	"math"

	"folio/api/internal/gitrepo"
	"folio/api/internal/rbac"
	"folio/api/internal/store"
	"folio/api/internal/textdiff"
)

// CreateVersionInput names a checkpoint. An empty status inherits the
// branch's status.
type CreateVersionInput struct {
	Name   string
	Status store.Status
}

// ListVersions pages through a branch's versions, newest first. page is
// zero-based.
func (s *Service) ListVersions(ctx context.Context, userID int64, documentID, branchID string, page int) (result store.PageResult[store.Version], err error) {
	ctx, span := startSpan(ctx, "ListVersions")
	defer func() { endSpan(span, err) }()

	if page < 0 {
		return store.PageResult[store.Version]{}, invalidArgument("page must not be negative")
	}
	if page > (math.MaxInt-1)/s.pageSize {
		return store.PageResult[store.Version]{}, invalidArgument("page %d is out of range", page)
	}
	_, branch, err := s.visibleBranch(ctx, userID, documentID, branchID)
	if err != nil {
		return store.PageResult[store.Version]{}, err
	}
	return s.store.ListVersions(ctx, branch.ID, store.PageQuery{
		Limit:  s.pageSize,
		Offset: page * s.pageSize,
	})
}

func (s *Service) PageSize() int {
	return s.pageSize
}

func (s *Service) GetVersion(ctx context.Context, userID int64, documentID, versionID string) (version store.Version, err error) {
	ctx, span := startSpan(ctx, "GetVersion")
	defer func() { endSpan(span, err) }()

	_, version, err = s.visibleVersion(ctx, userID, documentID, versionID)
	return version, err
}

func (s *Service) GetVersionContent(ctx context.Context, userID int64, documentID, versionID string) (content string, err error) {
	ctx, span := startSpan(ctx, "GetVersionContent")
	defer func() { endSpan(span, err) }()

	doc, version, err := s.visibleVersion(ctx, userID, documentID, versionID)
	if err != nil {
		return "", err
	}
	return s.versionContent(ctx, doc, version)
}

// DiffVersions diffs base against compare. Both versions must belong to the
// document; the user needs a role unless both are PUBLIC.
func (s *Service) DiffVersions(ctx context.Context, userID int64, documentID, baseVersionID, compareVersionID string) (diffs []textdiff.Diff, err error) {
	ctx, span := startSpan(ctx, "DiffVersions")
	defer func() { endSpan(span, err) }()

	doc, base, compare, err := s.versionPair(ctx, userID, documentID, baseVersionID, compareVersionID)
	if err != nil {
		return nil, err
	}
	if diffs, ok := s.cache.Diff(ctx, doc.PublicID, base.PublicID, compare.PublicID); ok {
		return diffs, nil
	}
	baseContent, compareContent, err := s.pairContent(ctx, doc, base, compare)
	if err != nil {
		return nil, err
	}
	diffs, err = s.diff.Diff(baseContent, compareContent)
	if err != nil {
		return nil, err
	}
	s.cache.PutDiff(ctx, doc.PublicID, base.PublicID, compare.PublicID, diffs)
	return diffs, nil
}

// VersionPatch builds the patch that turns base into compare, under the
// same visibility rules as DiffVersions.
func (s *Service) VersionPatch(ctx context.Context, userID int64, documentID, baseVersionID, compareVersionID string) (patch textdiff.Patch, err error) {
	ctx, span := startSpan(ctx, "VersionPatch")
	defer func() { endSpan(span, err) }()

	doc, base, compare, err := s.versionPair(ctx, userID, documentID, baseVersionID, compareVersionID)
	if err != nil {
		return textdiff.Patch{}, err
	}
	baseContent, compareContent, err := s.pairContent(ctx, doc, base, compare)
	if err != nil {
		return textdiff.Patch{}, err
	}
	return s.diff.MakePatch(baseContent, compareContent)
}

func (s *Service) versionPair(ctx context.Context, userID int64, documentID, baseVersionID, compareVersionID string) (store.Document, store.Version, store.Version, error) {
	doc, err := s.loadDocument(ctx, s.store, documentID)
	if err != nil {
		return store.Document{}, store.Version{}, store.Version{}, err
	}
	base, err := s.loadVersion(ctx, s.store, doc, baseVersionID)
	if err != nil {
		return store.Document{}, store.Version{}, store.Version{}, err
	}
	compare, err := s.loadVersion(ctx, s.store, doc, compareVersionID)
	if err != nil {
		return store.Document{}, store.Version{}, store.Version{}, err
	}
	if err := rbac.CheckVisible(userID, doc, base.Status, compare.Status); err != nil {
		return store.Document{}, store.Version{}, store.Version{}, err
	}
	return doc, base, compare, nil
}

func (s *Service) pairContent(ctx context.Context, doc store.Document, base, compare store.Version) (string, string, error) {
	baseContent, err := s.versionContent(ctx, doc, base)
	if err != nil {
		return "", "", err
	}
	compareContent, err := s.versionContent(ctx, doc, compare)
	if err != nil {
		return "", "", err
	}
	return baseContent, compareContent, nil
}

// CreateVersion snapshots the branch's current content as a named checkpoint.
func (s *Service) CreateVersion(ctx context.Context, userID int64, documentID, branchID string, in CreateVersionInput) (version store.Version, err error) {
	ctx, span := startSpan(ctx, "CreateVersion")
	defer func() { endSpan(span, err) }()

	err = s.mutate(ctx, documentID, func(tx store.Store, fx *effects) error {
		doc, err := s.loadDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if err := rbac.CheckCanWrite(userID, doc); err != nil {
			return err
		}
		branch, err := s.loadBranch(ctx, tx, doc, branchID)
		if err != nil {
			return err
		}
		status, err := resolveStatus(in.Status, branch.Status)
		if err != nil {
			return err
		}
		content, err := tx.GetContent(ctx, branch.ContentID)
		if err != nil {
			return err
		}
		version, err = s.recordVersion(ctx, tx, fx, doc, branch, versionFields{
			author:  userID,
			kind:    store.VersionKindCheckpoint,
			name:    in.Name,
			status:  status,
			content: content,
		})
		return err
	})
	if err != nil {
		return store.Version{}, err
	}
	return version, nil
}

func (s *Service) visibleVersion(ctx context.Context, userID int64, documentID, versionID string) (store.Document, store.Version, error) {
	doc, err := s.loadDocument(ctx, s.store, documentID)
	if err != nil {
		return store.Document{}, store.Version{}, err
	}
	version, err := s.loadVersion(ctx, s.store, doc, versionID)
	if err != nil {
		return store.Document{}, store.Version{}, err
	}
	if err := rbac.CheckVisible(userID, doc, version.Status); err != nil {
		return store.Document{}, store.Version{}, err
	}
	return doc, version, nil
}

// versionContent reads through the cache. Versions never change, so entries
// carry no revision.
func (s *Service) versionContent(ctx context.Context, doc store.Document, version store.Version) (string, error) {
	if content, ok := s.cache.VersionContent(ctx, doc.PublicID, version.PublicID); ok {
		return content, nil
	}
	content, err := s.store.GetContent(ctx, version.ContentID)
	if err != nil {
		return "", err
	}
	s.cache.PutVersionContent(ctx, doc.PublicID, version.PublicID, content)
	return content, nil
}

// restoreRecord stamps the archive commit with the branch's update time from
// the restoring transaction.
func restoreRecord(doc store.Document, branch store.Branch, target store.Version, userID int64, content string) gitrepo.Record {
	return gitrepo.Record{
		DocumentID: doc.PublicID,
		BranchID:   branch.PublicID,
		VersionID:  target.PublicID,
		AuthorID:   userID,
		Kind:       string(store.VersionKindRestore),
		Content:    content,
		When:       branch.UpdatedAt,
	}
}
