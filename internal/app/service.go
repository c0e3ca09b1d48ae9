package app

import (
	"context"
	"strings"
	"unicode/utf8"

	"folio/api/internal/cache"
	"folio/api/internal/gitrepo"
	"folio/api/internal/store"
	"folio/api/internal/textdiff"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("folio/api/internal/app")

const maxBranchNameLength = 100

// Archive mirrors committed versions somewhere outside the store. Calls are
// best-effort and made after the store transaction commits.
type Archive interface {
	Record(rec gitrepo.Record) (gitrepo.CommitInfo, error)
	History(documentID, branchID string, limit int) ([]gitrepo.CommitInfo, error)
	ContentAt(documentID, hash string) (string, error)
	DeleteBranch(documentID, branchID string) error
	DeleteDocument(documentID string) error
}

// DiffEngine is the subset of *textdiff.Engine the service needs.
type DiffEngine interface {
	Diff(base, compare string) ([]textdiff.Diff, error)
	MakePatch(original, updated string) (textdiff.Patch, error)
	ApplyPatch(p textdiff.Patch, target string) (string, bool, error)
	PatchDocument(original, updated string) (string, error)
}

type Dependencies struct {
	Store store.Store
	// Diff defaults to a textdiff engine with the default config.
	Diff DiffEngine
	// Cache may be nil.
	Cache *cache.RevisionCache
	// Archive may be nil.
	Archive          Archive
	Metrics          *Metrics
	Logger           zerolog.Logger
	VersionsPageSize int
}

// Service is the revision engine plus the document service around it.
// Every method takes the calling user id explicitly; 0 is anonymous.
type Service struct {
	store    store.Store
	diff     DiffEngine
	cache    *cache.RevisionCache
	archive  Archive
	metrics  *Metrics
	logger   zerolog.Logger
	pageSize int
}

func New(deps Dependencies) *Service {
	var diff DiffEngine = textdiff.New(textdiff.DefaultConfig())
	if deps.Diff != nil {
		diff = deps.Diff
	}
	pageSize := deps.VersionsPageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Service{
		store:    deps.Store,
		diff:     diff,
		cache:    deps.Cache,
		archive:  deps.Archive,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		pageSize: pageSize,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingCache(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// effects collects the cache and archive work a mutation needs once its
// transaction has committed.
type effects struct {
	evict           []string
	branchContent   []branchContent
	records         []gitrepo.Record
	deletedBranches []string
	deletedDocument string
	documentID      string
}

type branchContent struct {
	branchID string
	revision int64
	content  string
}

func (fx *effects) putBranch(branch store.Branch, revision int64, content string) {
	fx.branchContent = append(fx.branchContent, branchContent{branchID: branch.PublicID, revision: revision, content: content})
}

// mutate runs fn in one store transaction and applies its effects only if
// the transaction committed.
func (s *Service) mutate(ctx context.Context, documentID string, fn func(tx store.Store, fx *effects) error) error {
	fx := &effects{documentID: documentID}
	if err := s.store.WithTx(ctx, func(tx store.Store) error {
		return fn(tx, fx)
	}); err != nil {
		return err
	}
	s.apply(context.WithoutCancel(ctx), fx)
	return nil
}

func (s *Service) apply(ctx context.Context, fx *effects) {
	s.cache.Evict(ctx, fx.evict...)
	for _, bc := range fx.branchContent {
		s.cache.PutBranchContent(ctx, fx.documentID, bc.branchID, bc.revision, bc.content)
	}

	if s.archive == nil {
		return
	}
	log := s.logger.With().Str("document_id", fx.documentID).Logger()
	for _, rec := range fx.records {
		if _, err := s.archive.Record(rec); err != nil {
			log.Warn().Err(err).Str("branch_id", rec.BranchID).Str("version_id", rec.VersionID).Msg("archive record failed")
		}
	}
	for _, branchID := range fx.deletedBranches {
		if err := s.archive.DeleteBranch(fx.documentID, branchID); err != nil {
			log.Warn().Err(err).Str("branch_id", branchID).Msg("archive branch delete failed")
		}
	}
	if fx.deletedDocument != "" {
		if err := s.archive.DeleteDocument(fx.deletedDocument); err != nil {
			log.Warn().Err(err).Msg("archive document delete failed")
		}
	}
}

type versionFields struct {
	author  int64
	kind    store.VersionKind
	name    string
	status  store.Status
	content string
	// fromBranch is the public id of the branch a new branch was forked off.
	fromBranch string
}

// recordVersion snapshots content against branch inside tx and queues the
// archive commit.
func (s *Service) recordVersion(ctx context.Context, tx store.Store, fx *effects, doc store.Document, branch store.Branch, fields versionFields) (store.Version, error) {
	status := fields.status
	if status == "" {
		status = branch.Status
	}
	version := store.Version{
		DocumentID:     doc.ID,
		BranchID:       branch.ID,
		AuthorID:       fields.author,
		Status:         status,
		Kind:           fields.kind,
		Name:           fields.name,
		BranchPublicID: branch.PublicID,
	}
	if err := tx.CreateVersion(ctx, &version, fields.content); err != nil {
		return store.Version{}, err
	}
	fx.records = append(fx.records, gitrepo.Record{
		DocumentID:   doc.PublicID,
		BranchID:     branch.PublicID,
		FromBranchID: fields.fromBranch,
		VersionID:    version.PublicID,
		AuthorID:     fields.author,
		Kind:         string(fields.kind),
		Name:         fields.name,
		Content:      fields.content,
		When:         version.CreatedAt,
	})
	return version, nil
}

func (s *Service) loadDocument(ctx context.Context, q store.Store, documentID string) (store.Document, error) {
	if !validPublicID(documentID) {
		return store.Document{}, ErrNotFound
	}
	doc, err := q.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, notFound(err)
	}
	return doc, nil
}

func (s *Service) loadBranch(ctx context.Context, q store.Store, doc store.Document, branchID string) (store.Branch, error) {
	if !validPublicID(branchID) {
		return store.Branch{}, ErrNotFound
	}
	branch, err := q.GetBranch(ctx, doc.ID, branchID)
	if err != nil {
		return store.Branch{}, notFound(err)
	}
	return branch, nil
}

func (s *Service) loadVersion(ctx context.Context, q store.Store, doc store.Document, versionID string) (store.Version, error) {
	if !validPublicID(versionID) {
		return store.Version{}, ErrNotFound
	}
	version, err := q.GetVersion(ctx, doc.ID, versionID)
	if err != nil {
		return store.Version{}, notFound(err)
	}
	return version, nil
}

func validPublicID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func validateContent(content string) error {
	if !utf8.ValidString(content) {
		return invalidArgument("content must be valid UTF-8")
	}
	return nil
}

func normalizeBranchName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalidArgument("branch name is required")
	}
	if utf8.RuneCountInString(name) > maxBranchNameLength {
		return "", invalidArgument("branch name must be at most %d characters", maxBranchNameLength)
	}
	return name, nil
}

func resolveStatus(status, fallback store.Status) (store.Status, error) {
	if status == "" {
		return fallback, nil
	}
	if !status.Valid() {
		return "", invalidArgument("status must be PUBLIC or PRIVATE")
	}
	return status, nil
}

func startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Revision.Service."+op)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
