package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store with parameterized SQL. A store returned
// to a WithTx callback is bound to that transaction.
type PostgresStore struct {
	db   *sql.DB
	q    dbtx
	inTx bool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&PostgresStore{db: s.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const documentColumns = `d.id, d.public_id, d.title, d.owner_id, d.status, d.trashed, d.favorite, d.main_branch_id,
	COALESCE((SELECT mb.public_id::text FROM branches mb WHERE mb.id = d.main_branch_id), ''),
	d.created_at, d.updated_at`

func scanDocument(row interface{ Scan(...any) error }, doc *Document) error {
	var mainBranch sql.NullInt64
	if err := row.Scan(
		&doc.ID,
		&doc.PublicID,
		&doc.Title,
		&doc.OwnerID,
		&doc.Status,
		&doc.Trashed,
		&doc.Favorite,
		&mainBranch,
		&doc.MainBranchPublicID,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	); err != nil {
		return err
	}
	if mainBranch.Valid {
		id := mainBranch.Int64
		doc.MainBranchID = &id
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.PublicID == "" {
		doc.PublicID = uuid.NewString()
	}
	const q = `
		INSERT INTO documents (public_id, title, owner_id, status, trashed, favorite)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := s.q.QueryRowContext(ctx, q,
		doc.PublicID,
		doc.Title,
		doc.OwnerID,
		doc.Status,
		doc.Trashed,
		doc.Favorite,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, publicID string) (Document, error) {
	var doc Document
	row := s.q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents d WHERE d.public_id=$1`, publicID)
	if err := scanDocument(row, &doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("get document: %w", err)
	}

	grants, err := s.listSharedAccess(ctx, doc.ID)
	if err != nil {
		return Document{}, err
	}
	doc.SharedAccess = grants
	return doc, nil
}

func (s *PostgresStore) listSharedAccess(ctx context.Context, documentID int64) ([]SharedAccess, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, document_id, user_id, permission, created_at
		FROM shared_access
		WHERE document_id=$1
		ORDER BY id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list shared access: %w", err)
	}
	defer rows.Close()

	items := make([]SharedAccess, 0)
	for rows.Next() {
		var item SharedAccess
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.UserID, &item.Permission, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan shared access: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shared access: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, userID int64) ([]Document, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		WHERE d.trashed = FALSE
			AND (d.owner_id = $1 OR EXISTS (
				SELECT 1 FROM shared_access sa WHERE sa.document_id = d.id AND sa.user_id = $1
			))
		ORDER BY d.updated_at DESC, d.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var doc Document
		if err := scanDocument(rows, &doc); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, doc Document) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, status=$3, trashed=$4, favorite=$5, updated_at=NOW()
		WHERE id=$1
	`, doc.ID, doc.Title, doc.Status, doc.Trashed, doc.Favorite)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) SetMainBranch(ctx context.Context, documentID, branchID int64) error {
	res, err := s.q.ExecContext(ctx, `UPDATE documents SET main_branch_id=$2 WHERE id=$1`, documentID, branchID)
	if err != nil {
		return fmt.Errorf("set main branch: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID int64) error {
	contentIDs, err := s.collectContentIDs(ctx, `
		SELECT content_id FROM branches WHERE document_id=$1
		UNION ALL
		SELECT content_id FROM versions WHERE document_id=$1
	`, documentID)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return s.deleteContents(ctx, contentIDs)
}

func (s *PostgresStore) UpsertSharedAccess(ctx context.Context, grant *SharedAccess) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO shared_access (document_id, user_id, permission)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id, user_id) DO UPDATE SET permission=EXCLUDED.permission
		RETURNING id, created_at
	`, grant.DocumentID, grant.UserID, grant.Permission).Scan(&grant.ID, &grant.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert shared access: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSharedAccess(ctx context.Context, documentID, userID int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM shared_access WHERE document_id=$1 AND user_id=$2`, documentID, userID)
	if err != nil {
		return fmt.Errorf("delete shared access: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) GetContent(ctx context.Context, contentID int64) (string, error) {
	var body string
	err := s.q.QueryRowContext(ctx, `SELECT body FROM contents WHERE id=$1`, contentID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get content: %w", err)
	}
	return body, nil
}

func (s *PostgresStore) insertContent(ctx context.Context, body string) (int64, error) {
	var id int64
	if err := s.q.QueryRowContext(ctx, `INSERT INTO contents (body) VALUES ($1) RETURNING id`, body).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert content: %w", err)
	}
	return id, nil
}

const branchColumns = `id, public_id, document_id, name, status, trashed, content_id, revision, created_at, updated_at`

func scanBranch(row interface{ Scan(...any) error }, branch *Branch) error {
	return row.Scan(
		&branch.ID,
		&branch.PublicID,
		&branch.DocumentID,
		&branch.Name,
		&branch.Status,
		&branch.Trashed,
		&branch.ContentID,
		&branch.Revision,
		&branch.CreatedAt,
		&branch.UpdatedAt,
	)
}

func (s *PostgresStore) CreateBranch(ctx context.Context, branch *Branch, content string) error {
	if branch.PublicID == "" {
		branch.PublicID = uuid.NewString()
	}
	contentID, err := s.insertContent(ctx, content)
	if err != nil {
		return err
	}
	branch.ContentID = contentID

	err = s.q.QueryRowContext(ctx, `
		INSERT INTO branches (public_id, document_id, name, status, trashed, content_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, revision, created_at, updated_at
	`,
		branch.PublicID,
		branch.DocumentID,
		branch.Name,
		branch.Status,
		branch.Trashed,
		branch.ContentID,
	).Scan(&branch.ID, &branch.Revision, &branch.CreatedAt, &branch.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert branch: %w", err)
	}
	return nil
}

func (s *PostgresStore) getBranch(ctx context.Context, where string, args ...any) (Branch, error) {
	var branch Branch
	row := s.q.QueryRowContext(ctx, `SELECT `+branchColumns+` FROM branches WHERE `+where, args...)
	if err := scanBranch(row, &branch); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Branch{}, ErrNotFound
		}
		return Branch{}, fmt.Errorf("get branch: %w", err)
	}
	return branch, nil
}

func (s *PostgresStore) GetBranch(ctx context.Context, documentID int64, publicID string) (Branch, error) {
	return s.getBranch(ctx, `document_id=$1 AND public_id=$2`, documentID, publicID)
}

func (s *PostgresStore) GetBranchByID(ctx context.Context, documentID, branchID int64) (Branch, error) {
	return s.getBranch(ctx, `document_id=$1 AND id=$2`, documentID, branchID)
}

func (s *PostgresStore) GetBranchByName(ctx context.Context, documentID int64, name string) (Branch, error) {
	return s.getBranch(ctx, `document_id=$1 AND name=$2`, documentID, name)
}

func (s *PostgresStore) ListBranches(ctx context.Context, documentID int64, includeTrashed bool) ([]Branch, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE document_id=$1 AND ($2 OR trashed = FALSE)
		ORDER BY created_at, id
	`, documentID, includeTrashed)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	items := make([]Branch, 0)
	for rows.Next() {
		var branch Branch
		if err := scanBranch(rows, &branch); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		items = append(items, branch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateBranch(ctx context.Context, branch Branch) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE branches
		SET name=$2, status=$3, trashed=$4, updated_at=NOW()
		WHERE id=$1
	`, branch.ID, branch.Name, branch.Status, branch.Trashed)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update branch: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) ReplaceBranchContent(ctx context.Context, branchID int64, content string) (int64, error) {
	var revision int64
	err := s.q.QueryRowContext(ctx, `
		WITH bumped AS (
			UPDATE branches SET revision = revision + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING content_id, revision
		), written AS (
			UPDATE contents SET body = $2
			WHERE id = (SELECT content_id FROM bumped)
		)
		SELECT revision FROM bumped
	`, branchID, content).Scan(&revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("replace branch content: %w", err)
	}
	return revision, nil
}

func (s *PostgresStore) DeleteBranch(ctx context.Context, branchID int64) error {
	contentIDs, err := s.collectContentIDs(ctx, `
		SELECT content_id FROM branches WHERE id=$1
		UNION ALL
		SELECT content_id FROM versions WHERE branch_id=$1
	`, branchID)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `DELETE FROM branches WHERE id=$1`, branchID)
	if err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return s.deleteContents(ctx, contentIDs)
}

const versionColumns = `v.id, v.public_id, v.document_id, v.branch_id, v.content_id, v.author_id, v.status, v.kind, COALESCE(v.name, ''), v.created_at, b.public_id`

func scanVersion(row interface{ Scan(...any) error }, version *Version) error {
	return row.Scan(
		&version.ID,
		&version.PublicID,
		&version.DocumentID,
		&version.BranchID,
		&version.ContentID,
		&version.AuthorID,
		&version.Status,
		&version.Kind,
		&version.Name,
		&version.CreatedAt,
		&version.BranchPublicID,
	)
}

func (s *PostgresStore) CreateVersion(ctx context.Context, version *Version, content string) error {
	if version.PublicID == "" {
		version.PublicID = uuid.NewString()
	}
	contentID, err := s.insertContent(ctx, content)
	if err != nil {
		return err
	}
	version.ContentID = contentID

	// clock_timestamp keeps versions written inside one transaction ordered.
	err = s.q.QueryRowContext(ctx, `
		INSERT INTO versions (public_id, document_id, branch_id, content_id, author_id, status, kind, name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), clock_timestamp())
		RETURNING id, created_at
	`,
		version.PublicID,
		version.DocumentID,
		version.BranchID,
		version.ContentID,
		version.AuthorID,
		version.Status,
		version.Kind,
		version.Name,
	).Scan(&version.ID, &version.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID int64, publicID string) (Version, error) {
	var version Version
	row := s.q.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions v
		JOIN branches b ON b.id = v.branch_id
		WHERE v.document_id=$1 AND v.public_id=$2
	`, documentID, publicID)
	if err := scanVersion(row, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Version{}, ErrNotFound
		}
		return Version{}, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, branchID int64, page PageQuery) (PageResult[Version], error) {
	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions WHERE branch_id=$1`, branchID).Scan(&total); err != nil {
		return PageResult[Version]{}, fmt.Errorf("count versions: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions v
		JOIN branches b ON b.id = v.branch_id
		WHERE v.branch_id=$1
		ORDER BY v.created_at DESC, v.id DESC
		LIMIT $2 OFFSET $3
	`, branchID, page.Limit, page.Offset)
	if err != nil {
		return PageResult[Version]{}, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		var version Version
		if err := scanVersion(rows, &version); err != nil {
			return PageResult[Version]{}, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, version)
	}
	if err := rows.Err(); err != nil {
		return PageResult[Version]{}, fmt.Errorf("iterate versions: %w", err)
	}
	return PageResult[Version]{Items: items, Total: total}, nil
}

func (s *PostgresStore) DeleteVersionsAfter(ctx context.Context, branchID int64, after Version) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		DELETE FROM versions
		WHERE branch_id=$1 AND (created_at, id) > ($2, $3)
		RETURNING public_id, content_id
	`, branchID, after.CreatedAt, after.ID)
	if err != nil {
		return nil, fmt.Errorf("delete versions: %w", err)
	}
	defer rows.Close()

	publicIDs := make([]string, 0)
	contentIDs := make([]int64, 0)
	for rows.Next() {
		var publicID string
		var contentID int64
		if err := rows.Scan(&publicID, &contentID); err != nil {
			return nil, fmt.Errorf("scan deleted version: %w", err)
		}
		publicIDs = append(publicIDs, publicID)
		contentIDs = append(contentIDs, contentID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted versions: %w", err)
	}
	if err := s.deleteContents(ctx, contentIDs); err != nil {
		return nil, err
	}
	return publicIDs, nil
}

func (s *PostgresStore) collectContentIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("collect content ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan content id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) deleteContents(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM contents WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete contents: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
