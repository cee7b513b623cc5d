package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	injctx "github.com/easyops/contextinject-go/pkg/context"
	"github.com/easyops/contextinject-go/pkg/core/errors"
)

// contextColumns 是读取上下文时的列顺序，与 scanContext 对应。
const contextColumns = `c.rowid, c.id, c.type, c.title, c.content, c.parent_id, c.extensions,
	c.relevance_score, c.is_active, c.created_at, c.updated_at, c.expires_at`

// SQLiteStore SQLite 上下文存储
//
// 基于 SQLite 的持久化存储，适用于单机生产环境。
// 插入顺序由 rowid 表示，用作检索时的稳定排序依据。
type SQLiteStore struct {
	db   *sql.DB
	path string
	opts options
}

// NewSQLiteStore 创建 SQLite 上下文存储
//
// path 为 ":memory:" 时使用内存数据库（连接数限制为 1）。
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Unavailable("open sqlite", err)
	}

	// 内存数据库每个连接独立，必须共享同一连接
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	ctx := context.Background()

	// 测试连接
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Unavailable("ping sqlite", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, errors.Unavailable(fmt.Sprintf("pragma %q", p), err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.Unavailable("migrate sqlite", err)
	}

	return &SQLiteStore{db: db, path: path, opts: newOptions(opts)}, nil
}

// Create 存储新上下文
func (s *SQLiteStore) Create(ctx context.Context, c *injctx.Context) (string, error) {
	record, err := prepareNew(c, s.opts)
	if err != nil {
		return "", err
	}

	extensions, err := encodeExtensions(record.Extensions)
	if err != nil {
		return "", err
	}

	query := `
	INSERT INTO contexts (id, type, title, content, parent_id, extensions,
		relevance_score, is_active, created_at, updated_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, string(record.Type), record.Title, record.Content,
		nullString(record.ParentID), extensions,
		record.RelevanceScore, boolToInt(record.IsActive),
		record.CreatedAt.UnixMilli(), record.UpdatedAt.UnixMilli(), nullMillis(record.ExpiresAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return "", fmt.Errorf("%w: %s", errors.ErrDuplicateKey, record.ID)
		}
		return "", errors.Unavailable("insert context", err)
	}
	return record.ID, nil
}

// Get 获取上下文
func (s *SQLiteStore) Get(ctx context.Context, id string) (*injctx.Context, error) {
	query := `SELECT ` + contextColumns + ` FROM contexts c WHERE c.id = ?`

	c, _, err := scanContext(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Unavailable("get context", err)
	}
	return c, nil
}

// Update 更新上下文字段
func (s *SQLiteStore) Update(ctx context.Context, c *injctx.Context) error {
	if err := validateUpdate(c); err != nil {
		return err
	}

	extensions, err := encodeExtensions(c.Extensions)
	if err != nil {
		return err
	}

	query := `
	UPDATE contexts SET
		type = COALESCE(NULLIF(?, ''), type),
		title = ?,
		content = ?,
		parent_id = ?,
		extensions = ?,
		relevance_score = ?,
		is_active = ?,
		updated_at = ?,
		expires_at = ?
	WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(c.Type), c.Title, c.Content, nullString(c.ParentID), extensions,
		c.RelevanceScore, boolToInt(c.IsActive), s.opts.now().UnixMilli(), nullMillis(c.ExpiresAt),
		c.ID,
	)
	if err != nil {
		return errors.Unavailable("update context", err)
	}
	return requireAffected(result, c.ID)
}

// GetHierarchy 返回从根到该节点的链
func (s *SQLiteStore) GetHierarchy(ctx context.Context, id string) ([]*injctx.Context, error) {
	start, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return walkHierarchy(ctx, start, s.Get)
}

// GetRelated 返回出边指向的上下文
func (s *SQLiteStore) GetRelated(ctx context.Context, id string, relType string) ([]injctx.Related, error) {
	if err := s.requireExists(ctx, id); err != nil {
		return nil, err
	}

	// 内连接自动跳过无法解析的目标
	query := `SELECT r.type, r.strength, ` + contextColumns + `
	FROM relationships r JOIN contexts c ON c.id = r.target_id
	WHERE r.source_id = ?`
	args := []interface{}{id}
	if relType != "" {
		query += ` AND r.type = ?`
		args = append(args, relType)
	}
	query += ` ORDER BY r.rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Unavailable("get related", err)
	}
	defer rows.Close()

	var related []injctx.Related
	for rows.Next() {
		var r injctx.Related
		var row contextRow
		dest := append([]interface{}{&r.Type, &r.Strength}, row.fields()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Unavailable("scan related", err)
		}
		c, err := row.toContext()
		if err != nil {
			return nil, err
		}
		r.Context = c
		related = append(related, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Unavailable("iterate related", err)
	}
	return related, nil
}

// CreateRelationship 添加一条边
func (s *SQLiteStore) CreateRelationship(ctx context.Context, rel injctx.Relationship) error {
	if err := validateRelationship(rel); err != nil {
		return err
	}
	if err := s.requireExists(ctx, rel.SourceID); err != nil {
		return err
	}

	query := `
	INSERT INTO relationships (id, source_id, target_id, type, strength, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		s.opts.newID(), rel.SourceID, rel.TargetID, rel.Type, rel.Strength, s.opts.now().UnixMilli(),
	)
	if err != nil {
		return errors.Unavailable("insert relationship", err)
	}
	return nil
}

// Reinforce 强化上下文并衰减其关联上下文
func (s *SQLiteStore) Reinforce(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Unavailable("begin reinforce", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE contexts SET relevance_score = MIN(?, relevance_score + ?) WHERE id = ?`,
		MaxRelevanceScore, ReinforceIncrement, id,
	)
	if err != nil {
		return errors.Unavailable("reinforce context", err)
	}
	if err := requireAffected(result, id); err != nil {
		return err
	}

	// 每个关联目标只衰减一次
	_, err = tx.ExecContext(ctx, `
	UPDATE contexts SET relevance_score = relevance_score * ?
	WHERE id != ? AND id IN (SELECT DISTINCT target_id FROM relationships WHERE source_id = ?)
	`, DecayFactor, id, id)
	if err != nil {
		return errors.Unavailable("decay related", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Unavailable("commit reinforce", err)
	}
	return nil
}

// Prune 将低分的活跃上下文标记为非活跃
func (s *SQLiteStore) Prune(ctx context.Context, threshold float64) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Unavailable("begin prune", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM contexts WHERE is_active = 1 AND relevance_score < ? ORDER BY rowid`, threshold)
	if err != nil {
		return nil, errors.Unavailable("select prunable", err)
	}

	pruned := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Unavailable("scan prunable", err)
		}
		pruned = append(pruned, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Unavailable("iterate prunable", err)
	}

	if len(pruned) == 0 {
		return pruned, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE contexts SET is_active = 0 WHERE is_active = 1 AND relevance_score < ?`, threshold); err != nil {
		return nil, errors.Unavailable("prune contexts", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Unavailable("commit prune", err)
	}
	return pruned, nil
}

// Activate 重新激活上下文
func (s *SQLiteStore) Activate(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE contexts SET is_active = 1 WHERE id = ?`, id)
	if err != nil {
		return errors.Unavailable("activate context", err)
	}
	return requireAffected(result, id)
}

// FindRelevant 按查询词检索活跃上下文
//
// 过滤在 SQL 中完成，词匹配在 Go 中完成，以保证与其他实现一致的
// Unicode 大小写语义。
func (s *SQLiteStore) FindRelevant(ctx context.Context, query string, ctype injctx.ContextType, limit int) ([]*injctx.Context, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return []*injctx.Context{}, nil
	}

	now := s.opts.now()
	sqlQuery := `SELECT ` + contextColumns + ` FROM contexts c
	WHERE c.is_active = 1 AND (c.expires_at IS NULL OR c.expires_at > ?)`
	args := []interface{}{now.UnixMilli()}
	if ctype != "" {
		sqlQuery += ` AND c.type = ?`
		args = append(args, string(ctype))
	}
	sqlQuery += ` ORDER BY c.rowid`

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, errors.Unavailable("find relevant", err)
	}
	defer rows.Close()

	var matches []match
	for rows.Next() {
		c, seq, err := scanContext(rows)
		if err != nil {
			return nil, errors.Unavailable("scan context", err)
		}
		if m, ok := matchCandidate(c, seq, terms, ctype, now); ok {
			matches = append(matches, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Unavailable("iterate contexts", err)
	}

	return rankMatches(matches, limit), nil
}

// Stats 返回存储统计
func (s *SQLiteStore) Stats(ctx context.Context) (*injctx.StoreStats, error) {
	stats := &injctx.StoreStats{Types: make(map[injctx.ContextType]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT is_active, type, COUNT(*) FROM contexts GROUP BY is_active, type`)
	if err != nil {
		return nil, errors.Unavailable("stats contexts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var active int
		var ctype string
		var count int
		if err := rows.Scan(&active, &ctype, &count); err != nil {
			return nil, errors.Unavailable("scan stats", err)
		}
		if active == 1 {
			stats.ActiveCount += count
			stats.Types[injctx.ContextType(ctype)] += count
		} else {
			stats.InactiveCount += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Unavailable("iterate stats", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relationships`).Scan(&stats.RelationshipCount); err != nil {
		return nil, errors.Unavailable("stats relationships", err)
	}
	return stats, nil
}

// SchemaVersion 返回已应用的迁移版本
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	v, err := schemaVersion(ctx, s.db)
	if err != nil {
		return 0, errors.Unavailable("schema version", err)
	}
	return v, nil
}

// Path 返回数据库路径
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close 关闭连接
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// requireExists 检查上下文是否存在
func (s *SQLiteStore) requireExists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM contexts WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return notFound(id)
	}
	if err != nil {
		return errors.Unavailable("lookup context", err)
	}
	return nil
}

// contextRow 是 contexts 表的一行原始数据
type contextRow struct {
	seq        int64
	id         string
	ctype      string
	title      string
	content    string
	parentID   sql.NullString
	extensions sql.NullString
	score      float64
	active     int
	createdAt  int64
	updatedAt  int64
	expiresAt  sql.NullInt64
}

// fields 返回与 contextColumns 对应的扫描目标
func (r *contextRow) fields() []interface{} {
	return []interface{}{
		&r.seq, &r.id, &r.ctype, &r.title, &r.content, &r.parentID, &r.extensions,
		&r.score, &r.active, &r.createdAt, &r.updatedAt, &r.expiresAt,
	}
}

// toContext 将原始行转换为 Context
func (r *contextRow) toContext() (*injctx.Context, error) {
	c := &injctx.Context{
		ID:             r.id,
		Type:           injctx.ContextType(r.ctype),
		Title:          r.title,
		Content:        r.content,
		ParentID:       r.parentID.String,
		RelevanceScore: r.score,
		IsActive:       r.active == 1,
		CreatedAt:      time.UnixMilli(r.createdAt),
		UpdatedAt:      time.UnixMilli(r.updatedAt),
	}
	if r.expiresAt.Valid {
		ts := time.UnixMilli(r.expiresAt.Int64)
		c.ExpiresAt = &ts
	}
	if r.extensions.Valid && r.extensions.String != "" {
		if err := json.Unmarshal([]byte(r.extensions.String), &c.Extensions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extensions of %s: %w", r.id, err)
		}
	}
	return c, nil
}

// rowScanner 抽象 *sql.Row 与 *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanContext 扫描一行上下文并返回其插入序号
func scanContext(scanner rowScanner) (*injctx.Context, int64, error) {
	var row contextRow
	if err := scanner.Scan(row.fields()...); err != nil {
		return nil, 0, err
	}
	c, err := row.toContext()
	if err != nil {
		return nil, 0, err
	}
	return c, row.seq, nil
}

// encodeExtensions 将扩展槽编码为 JSON
func encodeExtensions(ext map[string]string) (sql.NullString, error) {
	if len(ext) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ext)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal extensions: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// requireAffected 在没有行被修改时返回 ErrNotFound
func requireAffected(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Unavailable("rows affected", err)
	}
	if rows == 0 {
		return notFound(id)
	}
	return nil
}

// isConstraintViolation 判断是否为主键或唯一约束冲突
func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// 编译时接口检查
var _ injctx.Store = (*SQLiteStore)(nil)
