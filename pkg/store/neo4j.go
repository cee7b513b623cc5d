package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	injctx "github.com/easyops/contextinject-go/pkg/context"
	"github.com/easyops/contextinject-go/pkg/core/errors"
)

// constraintViolation 是 Neo4j 唯一约束冲突的错误码
const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// Neo4jStore Neo4j 上下文存储
//
// 上下文存为 :Context 节点，关系存为 :RELATES 边，
// 关系类型与强度保存在边属性中。
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	opts     options

	seqMu   sync.Mutex
	lastSeq int64
}

// Neo4jConfig Neo4j 配置
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// NewNeo4jStore 创建 Neo4j 上下文存储
func NewNeo4jStore(ctx context.Context, config Neo4jConfig, opts ...Option) (*Neo4jStore, error) {
	if config.URI == "" {
		config.URI = "bolt://localhost:7687"
	}

	auth := neo4j.NoAuth()
	if config.Username != "" && config.Password != "" {
		auth = neo4j.BasicAuth(config.Username, config.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(config.URI, auth)
	if err != nil {
		return nil, errors.Unavailable("create neo4j driver", err)
	}

	// 验证连接
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errors.Unavailable("verify neo4j connectivity", err)
	}

	store := &Neo4jStore{driver: driver, database: config.Database, opts: newOptions(opts)}

	// 创建约束和索引
	if err := store.createSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errors.Unavailable("create neo4j schema", err)
	}

	return store, nil
}

// createSchema 创建唯一约束和索引
func (s *Neo4jStore) createSchema(ctx context.Context) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT context_id IF NOT EXISTS FOR (c:Context) REQUIRE c.id IS UNIQUE",
		"CREATE INDEX context_active IF NOT EXISTS FOR (c:Context) ON (c.is_active)",
		"CREATE INDEX context_type IF NOT EXISTS FOR (c:Context) ON (c.type)",
	}

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			// 忽略已存在的错误
			if !strings.Contains(err.Error(), "already exists") {
				return err
			}
		}
	}

	return nil
}

// nextSeq 返回单调递增的插入序号
func (s *Neo4jStore) nextSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	seq := s.opts.now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

// session 打开一个会话
func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

// Create 存储新上下文
func (s *Neo4jStore) Create(ctx context.Context, c *injctx.Context) (string, error) {
	record, err := prepareNew(c, s.opts)
	if err != nil {
		return "", err
	}

	props, err := contextProps(record)
	if err != nil {
		return "", err
	}
	props["seq"] = s.nextSeq()

	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `CREATE (c:Context) SET c = $props`, map[string]interface{}{"props": props})
	if err == nil {
		_, err = result.Consume(ctx)
	}
	if err != nil {
		var neoErr *neo4j.Neo4jError
		if stderrors.As(err, &neoErr) && neoErr.Code == constraintViolation {
			return "", fmt.Errorf("%w: %s", errors.ErrDuplicateKey, record.ID)
		}
		return "", errors.Unavailable("create context", err)
	}
	return record.ID, nil
}

// Get 获取上下文
func (s *Neo4jStore) Get(ctx context.Context, id string) (*injctx.Context, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `MATCH (c:Context {id: $id}) RETURN c`, map[string]interface{}{"id": id})
	if err != nil {
		return nil, errors.Unavailable("get context", err)
	}

	if result.Next(ctx) {
		nodeVal, _ := result.Record().Get("c")
		return s.nodeToContext(nodeVal.(neo4j.Node))
	}
	if err := result.Err(); err != nil {
		return nil, errors.Unavailable("get context", err)
	}
	return nil, notFound(id)
}

// Update 更新上下文字段
func (s *Neo4jStore) Update(ctx context.Context, c *injctx.Context) error {
	if err := validateUpdate(c); err != nil {
		return err
	}

	props, err := contextProps(c)
	if err != nil {
		return err
	}
	delete(props, "id")
	delete(props, "created_at")
	if c.Type == "" {
		delete(props, "type")
	}
	props["updated_at"] = s.opts.now().UnixMilli()

	session := s.session(ctx)
	defer session.Close(ctx)

	// expires_at 为 null 时 SET += 会移除该属性
	result, err := session.Run(ctx, `
	MATCH (c:Context {id: $id})
	SET c += $props
	RETURN c.id AS id
	`, map[string]interface{}{"id": c.ID, "props": props})
	if err != nil {
		return errors.Unavailable("update context", err)
	}
	return s.requireRow(ctx, result, c.ID)
}

// GetHierarchy 返回从根到该节点的链
func (s *Neo4jStore) GetHierarchy(ctx context.Context, id string) ([]*injctx.Context, error) {
	start, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return walkHierarchy(ctx, start, s.Get)
}

// GetRelated 返回出边指向的上下文
func (s *Neo4jStore) GetRelated(ctx context.Context, id string, relType string) ([]injctx.Related, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	query := `
	MATCH (s:Context {id: $id})
	OPTIONAL MATCH (s)-[r:RELATES]->(t:Context)
	WHERE $type = '' OR r.type = $type
	RETURN r, t
	ORDER BY r.seq
	`

	result, err := session.Run(ctx, query, map[string]interface{}{"id": id, "type": relType})
	if err != nil {
		return nil, errors.Unavailable("get related", err)
	}

	found := false
	var related []injctx.Related
	for result.Next(ctx) {
		found = true
		record := result.Record()

		relVal, _ := record.Get("r")
		nodeVal, _ := record.Get("t")
		if relVal == nil || nodeVal == nil {
			continue
		}

		rel := relVal.(neo4j.Relationship)
		target, err := s.nodeToContext(nodeVal.(neo4j.Node))
		if err != nil {
			return nil, err
		}
		related = append(related, injctx.Related{
			Context:  target,
			Type:     getStringProp(rel.Props, "type"),
			Strength: getFloat64Prop(rel.Props, "strength"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, errors.Unavailable("get related", err)
	}
	if !found {
		return nil, notFound(id)
	}
	return related, nil
}

// CreateRelationship 添加一条边
//
// 图存储中的边必须连接已存在的两个节点。
func (s *Neo4jStore) CreateRelationship(ctx context.Context, rel injctx.Relationship) error {
	if err := validateRelationship(rel); err != nil {
		return err
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	now := s.opts.now()
	query := `
	MATCH (from:Context {id: $fromId}), (to:Context {id: $toId})
	CREATE (from)-[r:RELATES {id: $id, type: $type, strength: $strength, created_at: $now, seq: $seq}]->(to)
	RETURN r.id AS id
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"id":       s.opts.newID(),
		"fromId":   rel.SourceID,
		"toId":     rel.TargetID,
		"type":     rel.Type,
		"strength": rel.Strength,
		"now":      now.UnixMilli(),
		"seq":      s.nextSeq(),
	})
	if err != nil {
		return errors.Unavailable("create relationship", err)
	}
	return s.requireRow(ctx, result, rel.SourceID+" -> "+rel.TargetID)
}

// Reinforce 强化上下文并衰减其关联上下文
func (s *Neo4jStore) Reinforce(ctx context.Context, id string) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	query := `
	MATCH (c:Context {id: $id})
	SET c.relevance_score = CASE
		WHEN c.relevance_score + $inc > $max THEN $max
		ELSE c.relevance_score + $inc
	END
	WITH c
	OPTIONAL MATCH (c)-[:RELATES]->(t:Context)
	WHERE t.id <> c.id
	WITH c, collect(DISTINCT t) AS targets
	FOREACH (t IN targets | SET t.relevance_score = t.relevance_score * $decay)
	RETURN c.id AS id
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"id":    id,
		"inc":   ReinforceIncrement,
		"max":   MaxRelevanceScore,
		"decay": DecayFactor,
	})
	if err != nil {
		return errors.Unavailable("reinforce context", err)
	}
	return s.requireRow(ctx, result, id)
}

// Prune 将低分的活跃上下文标记为非活跃
func (s *Neo4jStore) Prune(ctx context.Context, threshold float64) ([]string, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	query := `
	MATCH (c:Context)
	WHERE c.is_active = true AND c.relevance_score < $threshold
	SET c.is_active = false
	RETURN c.id AS id
	ORDER BY c.seq, c.id
	`

	result, err := session.Run(ctx, query, map[string]interface{}{"threshold": threshold})
	if err != nil {
		return nil, errors.Unavailable("prune contexts", err)
	}

	pruned := make([]string, 0)
	for result.Next(ctx) {
		idVal, _ := result.Record().Get("id")
		pruned = append(pruned, idVal.(string))
	}
	if err := result.Err(); err != nil {
		return nil, errors.Unavailable("prune contexts", err)
	}
	return pruned, nil
}

// Activate 重新激活上下文
func (s *Neo4jStore) Activate(ctx context.Context, id string) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (c:Context {id: $id}) SET c.is_active = true RETURN c.id AS id`,
		map[string]interface{}{"id": id})
	if err != nil {
		return errors.Unavailable("activate context", err)
	}
	return s.requireRow(ctx, result, id)
}

// FindRelevant 按查询词检索活跃上下文
//
// 相同分数按插入序号排序。
func (s *Neo4jStore) FindRelevant(ctx context.Context, query string, ctype injctx.ContextType, limit int) ([]*injctx.Context, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return []*injctx.Context{}, nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	now := s.opts.now()
	cypher := `
	MATCH (c:Context)
	WHERE c.is_active = true
		AND (c.expires_at IS NULL OR c.expires_at > $now)
		AND ($type = '' OR c.type = $type)
	RETURN c
	ORDER BY c.seq, c.id
	`

	result, err := session.Run(ctx, cypher, map[string]interface{}{
		"now":  now.UnixMilli(),
		"type": string(ctype),
	})
	if err != nil {
		return nil, errors.Unavailable("find relevant", err)
	}

	var matches []match
	var seq int64
	for result.Next(ctx) {
		nodeVal, _ := result.Record().Get("c")
		c, err := s.nodeToContext(nodeVal.(neo4j.Node))
		if err != nil {
			return nil, err
		}
		seq++
		if m, ok := matchCandidate(c, seq, terms, ctype, now); ok {
			matches = append(matches, m)
		}
	}
	if err := result.Err(); err != nil {
		return nil, errors.Unavailable("find relevant", err)
	}

	return rankMatches(matches, limit), nil
}

// Stats 返回存储统计
func (s *Neo4jStore) Stats(ctx context.Context) (*injctx.StoreStats, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (c:Context) RETURN c.is_active AS active, c.type AS type, count(*) AS count`, nil)
	if err != nil {
		return nil, errors.Unavailable("stats contexts", err)
	}

	stats := &injctx.StoreStats{Types: make(map[injctx.ContextType]int)}
	for result.Next(ctx) {
		record := result.Record()
		activeVal, _ := record.Get("active")
		typeVal, _ := record.Get("type")
		countVal, _ := record.Get("count")

		count := int(countVal.(int64))
		if active, _ := activeVal.(bool); active {
			stats.ActiveCount += count
			typeStr, _ := typeVal.(string)
			stats.Types[injctx.ContextType(typeStr)] += count
		} else {
			stats.InactiveCount += count
		}
	}
	if err := result.Err(); err != nil {
		return nil, errors.Unavailable("stats contexts", err)
	}

	result, err = session.Run(ctx, `MATCH (:Context)-[r:RELATES]->(:Context) RETURN count(r) AS count`, nil)
	if err != nil {
		return nil, errors.Unavailable("stats relationships", err)
	}
	if result.Next(ctx) {
		countVal, _ := result.Record().Get("count")
		stats.RelationshipCount = int(countVal.(int64))
	}
	if err := result.Err(); err != nil {
		return nil, errors.Unavailable("stats relationships", err)
	}

	return stats, nil
}

// Clear 删除所有上下文和关系
func (s *Neo4jStore) Clear(ctx context.Context) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `MATCH (c:Context) DETACH DELETE c`, nil)
	if err == nil {
		_, err = result.Consume(ctx)
	}
	if err != nil {
		return errors.Unavailable("clear contexts", err)
	}
	return nil
}

// Close 关闭连接
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

// requireRow 在结果为空时返回 ErrNotFound
func (s *Neo4jStore) requireRow(ctx context.Context, result neo4j.ResultWithContext, id string) error {
	if result.Next(ctx) {
		_, err := result.Consume(ctx)
		if err != nil {
			return errors.Unavailable("consume result", err)
		}
		return nil
	}
	if err := result.Err(); err != nil {
		return errors.Unavailable("read result", err)
	}
	return notFound(id)
}

// contextProps 将上下文转换为节点属性
func contextProps(c *injctx.Context) (map[string]interface{}, error) {
	props := map[string]interface{}{
		"id":              c.ID,
		"type":            string(c.Type),
		"title":           c.Title,
		"content":         c.Content,
		"parent_id":       c.ParentID,
		"relevance_score": c.RelevanceScore,
		"is_active":       c.IsActive,
		"created_at":      c.CreatedAt.UnixMilli(),
		"updated_at":      c.UpdatedAt.UnixMilli(),
		"expires_at":      nil,
		"extensions":      "",
	}
	if c.ExpiresAt != nil {
		props["expires_at"] = c.ExpiresAt.UnixMilli()
	}
	if len(c.Extensions) > 0 {
		data, err := json.Marshal(c.Extensions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal extensions: %w", err)
		}
		props["extensions"] = string(data)
	}
	return props, nil
}

// nodeToContext 将 Neo4j 节点转换为 Context
func (s *Neo4jStore) nodeToContext(node neo4j.Node) (*injctx.Context, error) {
	c := &injctx.Context{
		ID:             getStringProp(node.Props, "id"),
		Type:           injctx.ContextType(getStringProp(node.Props, "type")),
		Title:          getStringProp(node.Props, "title"),
		Content:        getStringProp(node.Props, "content"),
		ParentID:       getStringProp(node.Props, "parent_id"),
		RelevanceScore: getFloat64Prop(node.Props, "relevance_score"),
		IsActive:       getBoolProp(node.Props, "is_active"),
		CreatedAt:      time.UnixMilli(getInt64Prop(node.Props, "created_at")),
		UpdatedAt:      time.UnixMilli(getInt64Prop(node.Props, "updated_at")),
	}
	if v, ok := node.Props["expires_at"].(int64); ok {
		ts := time.UnixMilli(v)
		c.ExpiresAt = &ts
	}
	if ext := getStringProp(node.Props, "extensions"); ext != "" {
		if err := json.Unmarshal([]byte(ext), &c.Extensions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extensions of %s: %w", c.ID, err)
		}
	}
	return c, nil
}

// getStringProp 获取字符串属性
func getStringProp(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

// getInt64Prop 获取 int64 属性
func getInt64Prop(props map[string]interface{}, key string) int64 {
	if v, ok := props[key].(int64); ok {
		return v
	}
	return 0
}

// getFloat64Prop 获取 float64 属性
func getFloat64Prop(props map[string]interface{}, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// getBoolProp 获取布尔属性
func getBoolProp(props map[string]interface{}, key string) bool {
	v, _ := props[key].(bool)
	return v
}

// 编译时接口检查
var _ injctx.Store = (*Neo4jStore)(nil)
