// Package rbac classifies a user's access to a document. Every function is
// pure over its arguments.
package rbac

import (
	"errors"

	"folio/api/internal/store"
)

var (
	ErrUnauthorized = errors.New("rbac: unauthorized")
	ErrReadOnly     = errors.New("rbac: read-only access")
)

type Role string
type Action string

const (
	RoleOwner        Role = "OWNER"
	RoleReadWrite    Role = "READ_WRITE"
	RoleReadOnly     Role = "READ_ONLY"
	RoleUnauthorized Role = "UNAUTHORIZED"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

// Evaluate applies, in order: owner, READ_WRITE grant, READ_ONLY grant.
// User id 0 is anonymous and never matches an owner or a grant.
func Evaluate(userID int64, doc store.Document) Role {
	if userID == 0 {
		return RoleUnauthorized
	}
	if userID == doc.OwnerID {
		return RoleOwner
	}
	role := RoleUnauthorized
	for _, grant := range doc.SharedAccess {
		if grant.UserID != userID {
			continue
		}
		switch grant.Permission {
		case store.PermissionReadWrite:
			return RoleReadWrite
		case store.PermissionReadOnly:
			role = RoleReadOnly
		}
	}
	return role
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleReadWrite:
		return action == ActionRead || action == ActionWrite
	case RoleReadOnly:
		return action == ActionRead
	default:
		return false
	}
}

// CheckCanWrite passes for owners and READ_WRITE collaborators.
func CheckCanWrite(userID int64, doc store.Document) error {
	switch Evaluate(userID, doc) {
	case RoleOwner, RoleReadWrite:
		return nil
	case RoleReadOnly:
		return ErrReadOnly
	default:
		return ErrUnauthorized
	}
}

// CheckOwner passes only for the document owner.
func CheckOwner(userID int64, doc store.Document) error {
	if !Can(Evaluate(userID, doc), ActionAdmin) {
		return ErrUnauthorized
	}
	return nil
}

// Visible reports whether a resource of the given status may be read.
func Visible(userID int64, doc store.Document, status store.Status) bool {
	return status == store.StatusPublic || Evaluate(userID, doc) != RoleUnauthorized
}

// CheckVisible is Visible as an error.
func CheckVisible(userID int64, doc store.Document, statuses ...store.Status) error {
	public := len(statuses) > 0
	for _, s := range statuses {
		if s != store.StatusPublic {
			public = false
			break
		}
	}
	if public || Evaluate(userID, doc) != RoleUnauthorized {
		return nil
	}
	return ErrUnauthorized
}
