package app

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"folio/api/internal/cache"
	"folio/api/internal/rbac"
	"folio/api/internal/store"
)

const (
	defaultDocumentTitle = "Untitled document"
	maxTitleLength       = 255
)

type CreateDocumentInput struct {
	Title   string
	Status  store.Status
	Content string
}

// DocumentPatch carries the fields of an update; nil fields are untouched.
type DocumentPatch struct {
	Title    *string
	Status   *store.Status
	Favorite *bool
	Trashed  *bool
}

// DocumentDetail is a document together with its main branch.
type DocumentDetail struct {
	Document store.Document
	Main     store.Branch
}

func (s *Service) CreateDocument(ctx context.Context, userID int64, in CreateDocumentInput) (detail DocumentDetail, err error) {
	ctx, span := startSpan(ctx, "CreateDocument")
	defer func() { endSpan(span, err) }()

	if userID == 0 {
		return DocumentDetail{}, ErrUnauthenticated
	}
	title, err := normalizeTitle(in.Title)
	if err != nil {
		return DocumentDetail{}, err
	}
	status, err := resolveStatus(in.Status, store.StatusPrivate)
	if err != nil {
		return DocumentDetail{}, err
	}
	if err := validateContent(in.Content); err != nil {
		return DocumentDetail{}, err
	}

	var doc store.Document
	var main store.Branch
	err = s.mutate(ctx, "", func(tx store.Store, fx *effects) error {
		doc = store.Document{Title: title, OwnerID: userID, Status: status}
		if err := tx.CreateDocument(ctx, &doc); err != nil {
			return err
		}
		fx.documentID = doc.PublicID

		main = store.Branch{DocumentID: doc.ID, Name: store.MainBranchName, Status: status}
		if err := tx.CreateBranch(ctx, &main, in.Content); err != nil {
			return err
		}
		if err := tx.SetMainBranch(ctx, doc.ID, main.ID); err != nil {
			return err
		}
		doc.MainBranchID = &main.ID
		doc.MainBranchPublicID = main.PublicID

		if _, err := s.recordVersion(ctx, tx, fx, doc, main, versionFields{
			author:  userID,
			kind:    store.VersionKindCreate,
			content: in.Content,
		}); err != nil {
			return err
		}
		fx.putBranch(main, main.Revision, in.Content)
		return nil
	})
	if err != nil {
		return DocumentDetail{}, err
	}
	s.logger.Info().Str("document_id", doc.PublicID).Int64("owner_id", userID).Msg("document created")
	return DocumentDetail{Document: doc, Main: main}, nil
}

// GetDocument returns a PUBLIC document to anyone and a PRIVATE one to its
// owner and collaborators.
func (s *Service) GetDocument(ctx context.Context, userID int64, documentID string) (doc store.Document, err error) {
	ctx, span := startSpan(ctx, "GetDocument")
	defer func() { endSpan(span, err) }()

	doc, err = s.loadDocument(ctx, s.store, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if err := rbac.CheckVisible(userID, doc, doc.Status); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// ListDocuments lists the untrashed documents the user owns or has been
// granted access to.
func (s *Service) ListDocuments(ctx context.Context, userID int64) (docs []store.Document, err error) {
	ctx, span := startSpan(ctx, "ListDocuments")
	defer func() { endSpan(span, err) }()

	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	return s.store.ListDocuments(ctx, userID)
}

// UpdateDocument renames with write access; status, favorite and trash
// changes are reserved for the owner. Untrashing a document also untrashes
// its main branch.
func (s *Service) UpdateDocument(ctx context.Context, userID int64, documentID string, patch DocumentPatch) (doc store.Document, err error) {
	ctx, span := startSpan(ctx, "UpdateDocument")
	defer func() { endSpan(span, err) }()

	err = s.mutate(ctx, documentID, func(tx store.Store, fx *effects) error {
		doc, err = s.loadDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			if err := rbac.CheckCanWrite(userID, doc); err != nil {
				return err
			}
			title, err := normalizeTitle(*patch.Title)
			if err != nil {
				return err
			}
			doc.Title = title
		}
		if patch.Status != nil || patch.Favorite != nil || patch.Trashed != nil {
			if err := rbac.CheckOwner(userID, doc); err != nil {
				return err
			}
		}
		if patch.Status != nil {
			if !patch.Status.Valid() {
				return invalidArgument("status must be PUBLIC or PRIVATE")
			}
			doc.Status = *patch.Status
		}
		if patch.Favorite != nil {
			doc.Favorite = *patch.Favorite
		}
		untrashed := false
		if patch.Trashed != nil {
			untrashed = doc.Trashed && !*patch.Trashed
			doc.Trashed = *patch.Trashed
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return notFound(err)
		}
		if untrashed && doc.MainBranchID != nil {
			main, err := tx.GetBranchByID(ctx, doc.ID, *doc.MainBranchID)
			if err != nil {
				return notFound(err)
			}
			if main.Trashed {
				main.Trashed = false
				if err := tx.UpdateBranch(ctx, main); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// DeleteDocument hard-deletes a document with all of its branches and
// versions. Only the owner may do this.
func (s *Service) DeleteDocument(ctx context.Context, userID int64, documentID string) (err error) {
	ctx, span := startSpan(ctx, "DeleteDocument")
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, documentID, func(tx store.Store, fx *effects) error {
		doc, err := s.loadDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if err := rbac.CheckOwner(userID, doc); err != nil {
			return err
		}
		branches, err := tx.ListBranches(ctx, doc.ID, true)
		if err != nil {
			return err
		}
		if err := tx.DeleteDocument(ctx, doc.ID); err != nil {
			return notFound(err)
		}
		for _, b := range branches {
			fx.evict = append(fx.evict, cache.BranchKey(doc.PublicID, b.PublicID))
		}
		fx.deletedDocument = doc.PublicID
		return nil
	})
}

// ShareDocument grants or changes a collaborator's permission.
func (s *Service) ShareDocument(ctx context.Context, userID int64, documentID string, targetUserID int64, permission store.Permission) (grant store.SharedAccess, err error) {
	ctx, span := startSpan(ctx, "ShareDocument")
	defer func() { endSpan(span, err) }()

	if !permission.Valid() {
		return store.SharedAccess{}, invalidArgument("permission must be READ_ONLY or READ_WRITE")
	}
	if targetUserID <= 0 {
		return store.SharedAccess{}, invalidArgument("userId must be a positive integer")
	}
	err = s.mutate(ctx, documentID, func(tx store.Store, fx *effects) error {
		doc, err := s.loadDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if err := rbac.CheckOwner(userID, doc); err != nil {
			return err
		}
		if targetUserID == doc.OwnerID {
			return invalidArgument("the owner cannot be shared with")
		}
		grant = store.SharedAccess{DocumentID: doc.ID, UserID: targetUserID, Permission: permission}
		return tx.UpsertSharedAccess(ctx, &grant)
	})
	if err != nil {
		return store.SharedAccess{}, err
	}
	return grant, nil
}

func (s *Service) RevokeShare(ctx context.Context, userID int64, documentID string, targetUserID int64) (err error) {
	ctx, span := startSpan(ctx, "RevokeShare")
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, documentID, func(tx store.Store, fx *effects) error {
		doc, err := s.loadDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if err := rbac.CheckOwner(userID, doc); err != nil {
			return err
		}
		if err := tx.DeleteSharedAccess(ctx, doc.ID, targetUserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		return nil
	})
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return defaultDocumentTitle, nil
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", invalidArgument("title must be at most %d characters", maxTitleLength)
	}
	return title, nil
}
