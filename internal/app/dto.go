package app

import (
	"time"

	"folio/api/internal/gitrepo"
	"folio/api/internal/rbac"
	"folio/api/internal/store"
)

type documentResponse struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	OwnerID      int64           `json:"ownerId"`
	Status       store.Status    `json:"status"`
	Trashed      bool            `json:"trashed"`
	Favorite     bool            `json:"favorite"`
	MainBranchID string          `json:"mainBranchId,omitempty"`
	Role         rbac.Role       `json:"role"`
	Shares       []shareResponse `json:"shares,omitempty"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

type shareResponse struct {
	UserID     int64            `json:"userId"`
	Permission store.Permission `json:"permission"`
	CreatedAt  string           `json:"createdAt,omitempty"`
}

type branchResponse struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Status    store.Status `json:"status"`
	Trashed   bool         `json:"trashed"`
	Main      bool         `json:"main"`
	Revision  int64        `json:"revision"`
	CreatedAt string       `json:"createdAt"`
	UpdatedAt string       `json:"updatedAt"`
}

type versionResponse struct {
	ID        string            `json:"id"`
	BranchID  string            `json:"branchId"`
	AuthorID  int64             `json:"authorId"`
	Status    store.Status      `json:"status"`
	Kind      store.VersionKind `json:"kind"`
	Name      string            `json:"name,omitempty"`
	CreatedAt string            `json:"createdAt"`
}

type commitResponse struct {
	Hash      string `json:"hash"`
	Message   string `json:"message"`
	Author    string `json:"author"`
	VersionID string `json:"versionId"`
	CreatedAt string `json:"createdAt"`
}

// toDocumentResponse lists grants only for the owner.
func toDocumentResponse(doc store.Document, userID int64) documentResponse {
	role := rbac.Evaluate(userID, doc)
	resp := documentResponse{
		ID:           doc.PublicID,
		Title:        doc.Title,
		OwnerID:      doc.OwnerID,
		Status:       doc.Status,
		Trashed:      doc.Trashed,
		Favorite:     doc.Favorite,
		MainBranchID: doc.MainBranchPublicID,
		Role:         role,
		CreatedAt:    formatTime(doc.CreatedAt),
		UpdatedAt:    formatTime(doc.UpdatedAt),
	}
	if role == rbac.RoleOwner {
		for _, grant := range doc.SharedAccess {
			resp.Shares = append(resp.Shares, toShareResponse(grant))
		}
	}
	return resp
}

func toShareResponse(grant store.SharedAccess) shareResponse {
	resp := shareResponse{UserID: grant.UserID, Permission: grant.Permission}
	if !grant.CreatedAt.IsZero() {
		resp.CreatedAt = formatTime(grant.CreatedAt)
	}
	return resp
}

func toBranchResponse(b store.Branch) branchResponse {
	return branchResponse{
		ID:        b.PublicID,
		Name:      b.Name,
		Status:    b.Status,
		Trashed:   b.Trashed,
		Main:      b.IsMain(),
		Revision:  b.Revision,
		CreatedAt: formatTime(b.CreatedAt),
		UpdatedAt: formatTime(b.UpdatedAt),
	}
}

func toVersionResponse(v store.Version) versionResponse {
	return versionResponse{
		ID:        v.PublicID,
		BranchID:  v.BranchPublicID,
		AuthorID:  v.AuthorID,
		Status:    v.Status,
		Kind:      v.Kind,
		Name:      v.Name,
		CreatedAt: formatTime(v.CreatedAt),
	}
}

func toCommitResponse(c gitrepo.CommitInfo) commitResponse {
	return commitResponse{
		Hash:      c.Hash,
		Message:   c.Message,
		Author:    c.Author,
		VersionID: c.VersionID,
		CreatedAt: formatTime(c.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
