package store

import "time"

type Status string

const (
	StatusPublic  Status = "PUBLIC"
	StatusPrivate Status = "PRIVATE"
)

func (s Status) Valid() bool {
	return s == StatusPublic || s == StatusPrivate
}

type Permission string

const (
	PermissionReadOnly  Permission = "READ_ONLY"
	PermissionReadWrite Permission = "READ_WRITE"
)

func (p Permission) Valid() bool {
	return p == PermissionReadOnly || p == PermissionReadWrite
}

// VersionKind records which operation produced a version.
type VersionKind string

const (
	VersionKindCreate     VersionKind = "create"
	VersionKindUpdate     VersionKind = "update"
	VersionKindBranch     VersionKind = "branch"
	VersionKindMerge      VersionKind = "merge"
	VersionKindPatch      VersionKind = "patch"
	VersionKindRestore    VersionKind = "restore"
	VersionKindCheckpoint VersionKind = "checkpoint"
)

const MainBranchName = "main"

type Document struct {
	ID           int64
	PublicID     string
	Title        string
	OwnerID      int64
	Status       Status
	Trashed      bool
	Favorite     bool
	MainBranchID *int64
	// Read-only; resolved from MainBranchID.
	MainBranchPublicID string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	// Populated by GetDocument; never written through UpdateDocument.
	SharedAccess []SharedAccess
}

type Branch struct {
	ID         int64
	PublicID   string
	DocumentID int64
	Name       string
	Status     Status
	Trashed    bool
	ContentID  int64
	// Revision increments on every content replacement.
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b Branch) IsMain() bool {
	return b.Name == MainBranchName
}

// Version is an immutable snapshot of a branch's content.
type Version struct {
	ID         int64
	PublicID   string
	DocumentID int64
	BranchID   int64
	ContentID  int64
	AuthorID   int64
	Status     Status
	Kind       VersionKind
	Name       string
	CreatedAt  time.Time
	// Joined for responses.
	BranchPublicID string
}

type SharedAccess struct {
	ID         int64
	DocumentID int64
	UserID     int64
	Permission Permission
	CreatedAt  time.Time
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
type PageResult[T any] struct {
	Items []T
	Total int
}
