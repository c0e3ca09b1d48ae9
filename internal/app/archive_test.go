package app

import (
	"context"
	"net/http"
	"testing"

	"folio/api/internal/gitrepo"
	"folio/api/internal/rbac"
	"folio/api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveHistoryAndContent(t *testing.T) {
	h := newHarness(t)
	h.svc.archive = gitrepo.New(t.TempDir())
	ctx := context.Background()
	detail := h.createDocument(t, "one", store.StatusPublic)
	docID, mainID := detail.Document.PublicID, detail.Main.PublicID
	v1 := h.versions(t, docID, mainID)[0]
	feature, err := h.svc.CreateBranch(ctx, ownerID, docID, v1.PublicID, "feature", "")
	require.NoError(t, err)
	v2, err := h.svc.UpdateBranchContent(ctx, ownerID, docID, mainID, "two")
	require.NoError(t, err)

	commits, err := h.svc.ArchiveHistory(ctx, ownerID, docID, mainID, 0)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, v2.PublicID, commits[0].VersionID)
	assert.Equal(t, v1.PublicID, commits[1].VersionID)

	limited, err := h.svc.ArchiveHistory(ctx, ownerID, docID, mainID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	commit, content, err := h.svc.ArchiveContent(ctx, ownerID, docID, mainID, commits[1].Hash[:minCommitPrefix])
	require.NoError(t, err)
	assert.Equal(t, "one", content)
	assert.Equal(t, commits[1].Hash, commit.Hash)

	// The update to main after the fork is not on the feature branch.
	_, _, err = h.svc.ArchiveContent(ctx, ownerID, docID, feature.PublicID, commits[0].Hash)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = h.svc.ArchiveContent(ctx, ownerID, docID, mainID, "not-a-hash")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = h.svc.ArchiveHistory(ctx, ownerID, docID, mainID, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Public content does not open the archive to non-collaborators.
	_, err = h.svc.ArchiveHistory(ctx, strangerID, docID, mainID, 0)
	assert.ErrorIs(t, err, rbac.ErrUnauthorized)
	h.share(t, docID, readerID, store.PermissionReadOnly)
	_, err = h.svc.ArchiveHistory(ctx, readerID, docID, mainID, 0)
	assert.NoError(t, err)
}

func TestArchiveKeepsVersionsDroppedByRestore(t *testing.T) {
	h := newHarness(t)
	h.svc.archive = gitrepo.New(t.TempDir())
	ctx := context.Background()
	detail := h.createDocument(t, "v1", store.StatusPrivate)
	docID, mainID := detail.Document.PublicID, detail.Main.PublicID
	v1 := h.versions(t, docID, mainID)[0]
	v2, err := h.svc.UpdateBranchContent(ctx, ownerID, docID, mainID, "v2")
	require.NoError(t, err)

	require.NoError(t, h.svc.RestoreBranchToVersion(ctx, ownerID, docID, mainID, v1.PublicID))

	commits, err := h.svc.ArchiveHistory(ctx, ownerID, docID, mainID, 0)
	require.NoError(t, err)
	require.Len(t, commits, 3)
	assert.Equal(t, v1.PublicID, commits[0].VersionID)
	assert.Equal(t, v2.PublicID, commits[1].VersionID)

	_, content, err := h.svc.ArchiveContent(ctx, ownerID, docID, mainID, commits[1].Hash)
	require.NoError(t, err)
	assert.Equal(t, "v2", content)
	_, content, err = h.svc.ArchiveContent(ctx, ownerID, docID, mainID, commits[0].Hash)
	require.NoError(t, err)
	assert.Equal(t, "v1", content)
}

func TestArchiveDisabled(t *testing.T) {
	h := newHarness(t)
	h.svc.archive = nil
	detail := h.createDocument(t, "x", store.StatusPrivate)

	_, err := h.svc.ArchiveHistory(context.Background(), ownerID, detail.Document.PublicID, detail.Main.PublicID, 0)
	assert.ErrorIs(t, err, ErrArchiveDisabled)
}

func TestHTTPArchiveRoutes(t *testing.T) {
	h := newHTTPHarness(t)
	h.svc.archive = gitrepo.New(t.TempDir())
	detail := h.createDocument(t, "archived", store.StatusPublic)
	docID, mainID := detail.Document.PublicID, detail.Main.PublicID
	base := "/api/documents/" + docID + "/branches/" + mainID + "/archive"

	rr := h.do(t, ownerID, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	commits := decodeJSON(t, rr)["commits"].([]any)
	require.Len(t, commits, 1)
	first := commits[0].(map[string]any)
	assert.Equal(t, "user-1", first["author"])
	hash := first["hash"].(string)

	rr = h.do(t, ownerID, http.MethodGet, base+"/"+hash[:minCommitPrefix], "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	payload := decodeJSON(t, rr)
	assert.Equal(t, "archived", payload["content"])
	assert.Equal(t, hash, nested(t, payload, "commit")["hash"])

	rr = h.do(t, 0, http.MethodGet, base, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeJSON(t, rr)["code"])

	h.svc.archive = nil
	rr = h.do(t, ownerID, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decodeJSON(t, rr)["code"])
}
