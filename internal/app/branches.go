package app

import (
	"context"
	"errors"
	"fmt"

	"folio/api/internal/cache"
	"folio/api/internal/rbac"
	"folio/api/internal/store"
	"folio/api/internal/textdiff"
)

// patchSourceID names the source of a failed ApplyBranchPatch.
const patchSourceID = "patch"

// BranchPatch carries the fields of a branch update; nil fields are untouched.
type BranchPatch struct {
	Name   *string
	Status *store.Status
}

// CreateBranch forks a new branch from the content of sourceVersionID.
// An empty status inherits the source version's status.
func (s *Service) CreateBranch(ctx context.Context, userID int64, documentID, sourceVersionID, name string, status store.Status) (branch store.Branch, err error) {
	ctx, span := startSpan(ctx, "CreateBranch")
	defer func() { endSpan(span, err) }()

	name, err = normalizeBranchName(name)
	if err != nil {
		return store.Branch{}, err
	}

	err = s.mutate(ctx, documentID, func(tx store.Store, fx *effects) error {
		doc, err := s.loadDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		source, err := s.loadVersion(ctx, tx, doc, sourceVersionID)
		if err != nil {
			return err
		}
		if err := rbac.CheckCanWrite(userID, doc); err != nil {
			return err
		}
		branchStatus, err := resolveStatus(status, source.Status)
		if err != nil {
			return err
		}
		content, err := tx.GetContent(ctx, source.ContentID)
		if err != nil {
			return err
		}

		if _, err := tx.GetBranchByName(ctx, doc.ID, name); err == nil {
			return ErrBranchNameConflict
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		branch = store.Branch{DocumentID: doc.ID, Name: name, Status: branchStatus}
		if err := tx.CreateBranch(ctx, &branch, content); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrBranchNameConflict
			}
			return err
		}

		if _, err := s.recordVersion(ctx, tx, fx, doc, branch, versionFields{
			author:     userID,
			kind:       store.VersionKindBranch,
			content:    content,
			fromBranch: source.BranchPublicID,
		}); err != nil {
			return err
		}
		fx.putBranch(branch, branch.Revision, content)
		return nil
	})
	if err != nil {
		return store.Branch{}, err
	}
	return branch, nil
}

func (s *Service) GetBranch(ctx context.Context, userID int64, documentID, branchID string) (branch store.Branch, err error) {
	ctx, span := startSpan(ctx, "GetBranch")
	defer func() { endSpan(span, err) }()

	_, branch, err = s.visibleBranch(ctx, userID, documentID, branchID)
	return branch, err
}

// ListBranches lists untrashed branches, or trashed ones when trashed is
// set. Users without a role only see PUBLIC branches.
func (s *Service) ListBranches(ctx context.Context, userID int64, documentID string, trashed bool) (branches []store.Branch, err error) {
	ctx, span := startSpan(ctx, "ListBranches")
	defer func() { endSpan(span, err) }()

	doc, err := s.loadDocument(ctx, s.store, documentID)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListBranches(ctx, doc.ID, trashed)
	if err != nil {
		return nil, err
	}
	branches = make([]store.Branch, 0, len(all))
	for _, b := range all {
		if b.Trashed != trashed {
			continue
		}
		if !rbac.Visible(userID, doc, b.Status) {
			continue
		}
		branches = append(branches, b)
	}
	return branches, nil
}

// GetBranchContent returns the branch's current content. Cached entries are
// only served when they carry the branch's current revision.
func (s *Service) GetBranchContent(ctx context.Context, userID int64, documentID, branchID string) (content string, err error) {
	ctx, span := startSpan(ctx, "GetBranchContent")
	defer func() { endSpan(span, err) }()

	doc, branch, err := s.visibleBranch(ctx, userID, documentID, branchID)
	if err != nil {
		return "", err
	}
	if content, ok := s.cache.BranchContent(ctx, doc.PublicID, branch.PublicID, branch.Revision); ok {
		return content, nil
	}
	content, err = s.store.GetContent(ctx, branch.ContentID)
	if err != nil {
		return "", err
	}
	s.cache.PutBranchContent(ctx, doc.PublicID, branch.PublicID, branch.Revision, content)
	return content, nil
}

// UpdateBranchContent replaces the branch content and always records a
// version, even when the content is unchanged.
func (s *Service) UpdateBranchContent(ctx context.Context, userID int64, documentID, branchID, content string) (version store.Version, err error) {
	ctx, span := startSpan(ctx, "UpdateBranchContent")
	defer func() { endSpan(span, err) }()

	if err := validateContent(content); err != nil {
		return store.Version{}, err
	}
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
		version, err = s.writeBranch(ctx, tx, fx, doc, branch, userID, store.VersionKindUpdate, content)
		return err
	})
	if err != nil {
		return store.Version{}, err
	}
	return version, nil
}

// MergeBranchIntoBranch applies the changes from the target's content to the
// source's content onto the target and records a merge version, even when the
// contents already match. Merging a branch into itself writes nothing and
// returns a nil version.
func (s *Service) MergeBranchIntoBranch(ctx context.Context, userID int64, documentID, sourceBranchID, targetBranchID string) (version *store.Version, err error) {
	ctx, span := startSpan(ctx, "MergeBranchIntoBranch")
	defer func() { endSpan(span, err) }()

	result := mergeNoop
	defer func() {
		if err != nil {
			result = mergeFailed
		}
		s.metrics.merge(mergeSourceBranch, result)
	}()

	err = s.mutate(ctx, documentID, func(tx store.Store, fx *effects) error {
		doc, err := s.loadDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if err := rbac.CheckCanWrite(userID, doc); err != nil {
			return err
		}
		source, err := s.loadBranch(ctx, tx, doc, sourceBranchID)
		if err != nil {
			return err
		}
		target, err := s.loadBranch(ctx, tx, doc, targetBranchID)
		if err != nil {
			return err
		}
		if source.ID == target.ID {
			return nil
		}
		sourceContent, err := tx.GetContent(ctx, source.ContentID)
		if err != nil {
			return err
		}
		v, err := s.mergeInto(ctx, tx, fx, doc, target, userID, source.PublicID, sourceContent)
		if err != nil {
			return err
		}
		version, result = &v, mergeApplied
		return nil
	})
	if err != nil {
		return nil, err
	}
	if version != nil {
		s.logger.Info().
			Str("document_id", documentID).
			Str("source_branch_id", sourceBranchID).
			Str("target_branch_id", targetBranchID).
			Msg("branch merged")
	}
	return version, nil
}

// MergeVersionIntoBranch is MergeBranchIntoBranch with a version's snapshot
// as the source.
func (s *Service) MergeVersionIntoBranch(ctx context.Context, userID int64, documentID, branchID, versionID string) (version *store.Version, err error) {
	ctx, span := startSpan(ctx, "MergeVersionIntoBranch")
	defer func() { endSpan(span, err) }()

	result := mergeNoop
	defer func() {
		if err != nil {
			result = mergeFailed
		}
		s.metrics.merge(mergeSourceVersion, result)
	}()

	err = s.mutate(ctx, documentID, func(tx store.Store, fx *effects) error {
		doc, err := s.loadDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if err := rbac.CheckCanWrite(userID, doc); err != nil {
			return err
		}
		target, err := s.loadBranch(ctx, tx, doc, branchID)
		if err != nil {
			return err
		}
		source, err := s.loadVersion(ctx, tx, doc, versionID)
		if err != nil {
			return err
		}
		sourceContent, err := tx.GetContent(ctx, source.ContentID)
		if err != nil {
			return err
		}
		v, err := s.mergeInto(ctx, tx, fx, doc, target, userID, source.PublicID, sourceContent)
		if err != nil {
			return err
		}
		version, result = &v, mergeApplied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// mergeInto patches target with the changes that turn its content into
// sourceContent and records the result as a merge version.
func (s *Service) mergeInto(ctx context.Context, tx store.Store, fx *effects, doc store.Document, target store.Branch, userID int64, sourceID, sourceContent string) (store.Version, error) {
	targetContent, err := tx.GetContent(ctx, target.ContentID)
	if err != nil {
		return store.Version{}, err
	}
	merged, err := s.diff.PatchDocument(targetContent, sourceContent)
	if err != nil {
		if errors.Is(err, textdiff.ErrPatchFailed) {
			return store.Version{}, &MergeFailedError{SourceID: sourceID, TargetID: target.PublicID, Err: err}
		}
		return store.Version{}, err
	}
	return s.writeBranch(ctx, tx, fx, doc, target, userID, store.VersionKindMerge, merged)
}

// writeBranch replaces the branch content and snapshots it as a version of
// the given kind.
func (s *Service) writeBranch(ctx context.Context, tx store.Store, fx *effects, doc store.Document, branch store.Branch, userID int64, kind store.VersionKind, content string) (store.Version, error) {
	revision, err := tx.ReplaceBranchContent(ctx, branch.ID, content)
	if err != nil {
		return store.Version{}, notFound(err)
	}
	version, err := s.recordVersion(ctx, tx, fx, doc, branch, versionFields{
		author:  userID,
		kind:    kind,
		content: content,
	})
	if err != nil {
		return store.Version{}, err
	}
	fx.putBranch(branch, revision, content)
	return version, nil
}

// ApplyBranchPatch applies a patch in text form to the branch content and
// records a patch version. The patch may have been made against different
// text; a hunk that finds no match fails the whole call.
func (s *Service) ApplyBranchPatch(ctx context.Context, userID int64, documentID, branchID, patchText string) (version store.Version, err error) {
	ctx, span := startSpan(ctx, "ApplyBranchPatch")
	defer func() { endSpan(span, err) }()

	patch, err := textdiff.ParsePatch(patchText)
	if err != nil {
		return store.Version{}, err
	}
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
		current, err := tx.GetContent(ctx, branch.ContentID)
		if err != nil {
			return err
		}
		patched, ok, err := s.diff.ApplyPatch(patch, current)
		if err != nil {
			return err
		}
		if !ok {
			return &MergeFailedError{
				SourceID: patchSourceID,
				TargetID: branch.PublicID,
				Err:      fmt.Errorf("%w: %d hunks", textdiff.ErrPatchFailed, patch.Len()),
			}
		}
		version, err = s.writeBranch(ctx, tx, fx, doc, branch, userID, store.VersionKindPatch, patched)
		return err
	})
	if err != nil {
		return store.Version{}, err
	}
	return version, nil
}

// RestoreBranchToVersion resets the branch to a version of its own history
// and drops every version recorded after it. No new version is recorded.
func (s *Service) RestoreBranchToVersion(ctx context.Context, userID int64, documentID, branchID, versionID string) (err error) {
	ctx, span := startSpan(ctx, "RestoreBranchToVersion")
	defer func() { endSpan(span, err) }()

	var dropped []string
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
		target, err := s.loadVersion(ctx, tx, doc, versionID)
		if err != nil {
			return err
		}
		if target.BranchID != branch.ID {
			return ErrNotFound
		}
		content, err := tx.GetContent(ctx, target.ContentID)
		if err != nil {
			return err
		}
		revision, err := tx.ReplaceBranchContent(ctx, branch.ID, content)
		if err != nil {
			return notFound(err)
		}
		restored, err := tx.GetBranchByID(ctx, doc.ID, branch.ID)
		if err != nil {
			return notFound(err)
		}
		dropped, err = tx.DeleteVersionsAfter(ctx, branch.ID, target)
		if err != nil {
			return err
		}

		// Diff entries naming a dropped version are left to expire; DiffVersions
		// resolves both versions in the store before it reads the cache.
		for _, id := range dropped {
			fx.evict = append(fx.evict, cache.VersionKey(doc.PublicID, id))
		}
		fx.putBranch(branch, revision, content)
		fx.records = append(fx.records, restoreRecord(doc, restored, target, userID, content))
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("document_id", documentID).
		Str("branch_id", branchID).
		Str("version_id", versionID).
		Int("dropped_versions", len(dropped)).
		Msg("branch restored")
	return nil
}

// UpdateBranch renames a branch or changes its status. The main branch keeps
// its name.
func (s *Service) UpdateBranch(ctx context.Context, userID int64, documentID, branchID string, patch BranchPatch) (branch store.Branch, err error) {
	ctx, span := startSpan(ctx, "UpdateBranch")
	defer func() { endSpan(span, err) }()

	err = s.mutate(ctx, documentID, func(tx store.Store, fx *effects) error {
		doc, err := s.loadDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if err := rbac.CheckCanWrite(userID, doc); err != nil {
			return err
		}
		branch, err = s.loadBranch(ctx, tx, doc, branchID)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			name, err := normalizeBranchName(*patch.Name)
			if err != nil {
				return err
			}
			if name != branch.Name {
				if branch.IsMain() {
					return ErrMainBranchProtected
				}
				if _, err := tx.GetBranchByName(ctx, doc.ID, name); err == nil {
					return ErrBranchNameConflict
				} else if !errors.Is(err, store.ErrNotFound) {
					return err
				}
				branch.Name = name
			}
		}
		if patch.Status != nil {
			if !patch.Status.Valid() {
				return invalidArgument("status must be PUBLIC or PRIVATE")
			}
			branch.Status = *patch.Status
		}
		if err := tx.UpdateBranch(ctx, branch); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrBranchNameConflict
			}
			return notFound(err)
		}
		return nil
	})
	if err != nil {
		return store.Branch{}, err
	}
	return branch, nil
}

// TrashBranch moves a branch to the trash. The main branch can only be
// trashed while its document is.
func (s *Service) TrashBranch(ctx context.Context, userID int64, documentID, branchID string) (branch store.Branch, err error) {
	ctx, span := startSpan(ctx, "TrashBranch")
	defer func() { endSpan(span, err) }()

	err = s.mutate(ctx, documentID, func(tx store.Store, fx *effects) error {
		doc, err := s.loadDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if err := rbac.CheckCanWrite(userID, doc); err != nil {
			return err
		}
		branch, err = s.loadBranch(ctx, tx, doc, branchID)
		if err != nil {
			return err
		}
		if branch.Trashed {
			return nil
		}
		if branch.IsMain() && !doc.Trashed {
			return ErrMainBranchProtected
		}
		branch.Trashed = true
		return notFound(tx.UpdateBranch(ctx, branch))
	})
	if err != nil {
		return store.Branch{}, err
	}
	return branch, nil
}

func (s *Service) UntrashBranch(ctx context.Context, userID int64, documentID, branchID string) (branch store.Branch, err error) {
	ctx, span := startSpan(ctx, "UntrashBranch")
	defer func() { endSpan(span, err) }()

	err = s.mutate(ctx, documentID, func(tx store.Store, fx *effects) error {
		doc, err := s.loadDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if err := rbac.CheckOwner(userID, doc); err != nil {
			return err
		}
		branch, err = s.loadBranch(ctx, tx, doc, branchID)
		if err != nil {
			return err
		}
		if !branch.Trashed {
			return nil
		}
		branch.Trashed = false
		return notFound(tx.UpdateBranch(ctx, branch))
	})
	if err != nil {
		return store.Branch{}, err
	}
	return branch, nil
}

// DeleteBranch hard-deletes a trashed branch and its versions. The main
// branch is never deleted on its own.
func (s *Service) DeleteBranch(ctx context.Context, userID int64, documentID, branchID string) (err error) {
	ctx, span := startSpan(ctx, "DeleteBranch")
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, documentID, func(tx store.Store, fx *effects) error {
		doc, err := s.loadDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if err := rbac.CheckOwner(userID, doc); err != nil {
			return err
		}
		branch, err := s.loadBranch(ctx, tx, doc, branchID)
		if err != nil {
			return err
		}
		if branch.IsMain() {
			return ErrMainBranchProtected
		}
		if !branch.Trashed {
			return fmt.Errorf("%w: branch must be trashed before it is deleted", ErrInvalidState)
		}
		if err := tx.DeleteBranch(ctx, branch.ID); err != nil {
			return notFound(err)
		}
		fx.evict = append(fx.evict, cache.BranchKey(doc.PublicID, branch.PublicID))
		fx.deletedBranches = append(fx.deletedBranches, branch.PublicID)
		return nil
	})
}

// visibleBranch loads a branch the user may read.
func (s *Service) visibleBranch(ctx context.Context, userID int64, documentID, branchID string) (store.Document, store.Branch, error) {
	doc, err := s.loadDocument(ctx, s.store, documentID)
	if err != nil {
		return store.Document{}, store.Branch{}, err
	}
	branch, err := s.loadBranch(ctx, s.store, doc, branchID)
	if err != nil {
		return store.Document{}, store.Branch{}, err
	}
	if err := rbac.CheckVisible(userID, doc, branch.Status); err != nil {
		return store.Document{}, store.Branch{}, err
	}
	return doc, branch, nil
}
