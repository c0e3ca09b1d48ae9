package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: unique constraint violated")
)

// Store is the persistence boundary used by the revision engine. Lookups of
// branches and versions are always scoped to a document, so an id that
// belongs to another document reports ErrNotFound.
type Store interface {
	// WithTx runs fn against a transaction-bound Store. The transaction is
	// committed only when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error

	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, publicID string) (Document, error)
	ListDocuments(ctx context.Context, userID int64) ([]Document, error)
	UpdateDocument(ctx context.Context, doc Document) error
	SetMainBranch(ctx context.Context, documentID, branchID int64) error
	DeleteDocument(ctx context.Context, documentID int64) error

	UpsertSharedAccess(ctx context.Context, grant *SharedAccess) error
	DeleteSharedAccess(ctx context.Context, documentID, userID int64) error

	GetContent(ctx context.Context, contentID int64) (string, error)

	// CreateBranch inserts the branch together with its own content row.
	CreateBranch(ctx context.Context, branch *Branch, content string) error
	GetBranch(ctx context.Context, documentID int64, publicID string) (Branch, error)
	GetBranchByID(ctx context.Context, documentID, branchID int64) (Branch, error)
	GetBranchByName(ctx context.Context, documentID int64, name string) (Branch, error)
	ListBranches(ctx context.Context, documentID int64, includeTrashed bool) ([]Branch, error)
	UpdateBranch(ctx context.Context, branch Branch) error
	// ReplaceBranchContent overwrites the branch content and returns the new revision.
	ReplaceBranchContent(ctx context.Context, branchID int64, content string) (int64, error)
	DeleteBranch(ctx context.Context, branchID int64) error

	// CreateVersion inserts the snapshot content row and the version.
	CreateVersion(ctx context.Context, version *Version, content string) error
	GetVersion(ctx context.Context, documentID int64, publicID string) (Version, error)
	ListVersions(ctx context.Context, branchID int64, page PageQuery) (PageResult[Version], error)
	// DeleteVersionsAfter removes every version of the branch recorded strictly
	// after the given one and returns their public ids.
	DeleteVersionsAfter(ctx context.Context, branchID int64, after Version) ([]string, error)
}
