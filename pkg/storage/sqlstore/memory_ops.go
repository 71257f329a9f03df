package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentdock/agentdock-core/pkg/memory"
)

// memOps implements memory.Operations and memory.EmbeddingStore on the
// SQL schema. Scalar fields live in indexed columns; list- and
// map-valued extras live in a JSON document column, so no field is
// stored twice.
type memOps struct {
	s       *Store
	updater *memory.AccessUpdater
}

func newMemOps(s *Store) *memOps {
	return &memOps{
		s:       s,
		updater: memory.NewAccessUpdater(0, 0),
	}
}

func (m *memOps) close() {
	m.updater.Close()
}

// memoryExtras is the JSON document column: everything that has no
// dedicated filter column.
type memoryExtras struct {
	Keywords         []string             `json:"keywords,omitempty"`
	Metadata         map[string]any       `json:"metadata,omitempty"`
	ExtractionMethod string               `json:"extraction_method,omitempty"`
	TokenCount       int                  `json:"token_count,omitempty"`
	BatchID          string               `json:"batch_id,omitempty"`
	SourceMessageIDs []string             `json:"source_message_ids,omitempty"`
	Embedding        *memory.EmbeddingRef `json:"embedding,omitempty"`
}

const memoryColumns = `id, user_id, agent_id, type, content, importance, resonance,
	access_count, session_id, created_at, updated_at, last_accessed_at, data`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*memory.Memory, error) {
	var (
		mem       memory.Memory
		memType   string
		sessionID sql.NullString
		created   int64
		updated   int64
		accessed  int64
		data      string
	)
	err := row.Scan(&mem.ID, &mem.UserID, &mem.AgentID, &memType, &mem.Content,
		&mem.Importance, &mem.Resonance, &mem.AccessCount, &sessionID,
		&created, &updated, &accessed, &data)
	if err != nil {
		return nil, err
	}

	mem.Type = memory.MemoryType(memType)
	mem.SessionID = sessionID.String
	mem.CreatedAt = time.UnixMilli(created)
	mem.UpdatedAt = time.UnixMilli(updated)
	mem.LastAccessedAt = time.UnixMilli(accessed)

	var extras memoryExtras
	if err := json.Unmarshal([]byte(data), &extras); err != nil {
		return nil, fmt.Errorf("failed to decode memory %s: %w", mem.ID, err)
	}
	mem.Keywords = extras.Keywords
	mem.Metadata = extras.Metadata
	mem.ExtractionMethod = extras.ExtractionMethod
	mem.TokenCount = extras.TokenCount
	mem.BatchID = extras.BatchID
	mem.SourceMessageIDs = extras.SourceMessageIDs
	mem.Embedding = extras.Embedding
	return &mem, nil
}

func encodeExtras(mem *memory.Memory) (string, error) {
	data, err := json.Marshal(memoryExtras{
		Keywords:         mem.Keywords,
		Metadata:         mem.Metadata,
		ExtractionMethod: mem.ExtractionMethod,
		TokenCount:       mem.TokenCount,
		BatchID:          mem.BatchID,
		SourceMessageIDs: mem.SourceMessageIDs,
		Embedding:        mem.Embedding,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Store persists a new memory and returns its id.
func (m *memOps) Store(ctx context.Context, userID, agentID string, mem *memory.Memory) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", memory.ErrValidation)
	}
	if mem.UserID != "" && mem.UserID != userID {
		return "", fmt.Errorf("%w: memory user %q vs caller %q", memory.ErrTenancy, mem.UserID, userID)
	}

	stored := *mem
	stored.UserID = userID
	stored.AgentID = agentID
	if stored.Type == "" {
		stored.Type = memory.TypeEpisodic
	}
	if stored.Resonance == 0 {
		stored.Resonance = 1.0
	}
	if err := stored.Validate(); err != nil {
		return "", err
	}

	now := m.s.nowFn()
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}
	if stored.LastAccessedAt.IsZero() {
		stored.LastAccessedAt = now
	}

	extras, err := encodeExtras(&stored)
	if err != nil {
		return "", fmt.Errorf("failed to encode memory: %w", err)
	}

	query := m.s.rebind(`INSERT INTO memories (` + memoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = m.s.db.ExecContext(ctx, query,
		stored.ID, stored.UserID, stored.AgentID, string(stored.Type), stored.Content,
		stored.Importance, stored.Resonance, stored.AccessCount, nullString(stored.SessionID),
		stored.CreatedAt.UnixMilli(), stored.UpdatedAt.UnixMilli(),
		stored.LastAccessedAt.UnixMilli(), extras)
	if err != nil {
		return "", fmt.Errorf("failed to store memory: %w", err)
	}

	mem.ID = stored.ID
	return stored.ID, nil
}

// Recall runs the deterministic composite-score recall. Column filters
// run in SQL; keyword and content matching run on the decoded rows.
func (m *memOps) Recall(ctx context.Context, userID, agentID, query string, opts *memory.RecallOptions) ([]*memory.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", memory.ErrValidation)
	}
	if opts == nil {
		opts = &memory.RecallOptions{}
	}
	opts.SetDefaults()

	var (
		where []string
		args  []any
	)
	where = append(where, "user_id = ?", "agent_id = ?")
	args = append(args, userID, agentID)

	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.MinImportance > 0 {
		where = append(where, "importance >= ?")
		args = append(args, opts.MinImportance)
	}
	if opts.MinResonance > 0 {
		where = append(where, "resonance >= ?")
		args = append(args, opts.MinResonance)
	}
	if opts.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.TimeRange != nil {
		if !opts.TimeRange.Start.IsZero() {
			where = append(where, "created_at >= ?")
			args = append(args, opts.TimeRange.Start.UnixMilli())
		}
		if !opts.TimeRange.End.IsZero() {
			where = append(where, "created_at <= ?")
			args = append(args, opts.TimeRange.End.UnixMilli())
		}
	}

	sqlQuery := m.s.rebind(`SELECT ` + memoryColumns + ` FROM memories
		WHERE ` + strings.Join(where, " AND "))

	rows, err := m.s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to recall memories: %w", err)
	}
	defer rows.Close()

	var matched []*memory.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			slog.Warn("Skipping undecodable memory row", "error", err)
			continue
		}
		if !hasAllKeywords(mem, opts.Keywords) {
			continue
		}
		if !contentMatches(mem, query) {
			continue
		}
		matched = append(matched, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	memory.SortByRelevance(matched, m.s.nowFn())
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	if !opts.SkipAccessUpdate && len(matched) > 0 {
		ids := make([]string, len(matched))
		for i, mem := range matched {
			ids[i] = mem.ID
		}
		m.updater.Enqueue(func(ctx context.Context) error {
			return m.bumpAccess(ctx, ids)
		})
	}

	return matched, nil
}

func (m *memOps) bumpAccess(ctx context.Context, ids []string) error {
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, m.s.nowMillis())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := m.s.rebind(`UPDATE memories
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id IN (` + strings.Join(placeholders, ", ") + `)`)
	_, err := m.s.db.ExecContext(ctx, query, args...)
	return err
}

func contentMatches(mem *memory.Memory, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(mem.Content), q) {
		return true
	}
	for _, kw := range mem.Keywords {
		if strings.Contains(q, strings.ToLower(kw)) || strings.Contains(strings.ToLower(kw), q) {
			return true
		}
	}
	return false
}

func hasAllKeywords(mem *memory.Memory, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	have := make(map[string]bool, len(mem.Keywords))
	for _, kw := range mem.Keywords {
		have[strings.ToLower(kw)] = true
	}
	for _, kw := range wanted {
		if !have[strings.ToLower(kw)] {
			return false
		}
	}
	return true
}

// SearchByContent is the lexical path: LIKE match ranked by occurrence
// count then recency.
func (m *memOps) SearchByContent(ctx context.Context, userID, agentID, query string, limit int) ([]*memory.Memory, error) {
	if limit <= 0 {
		limit = 20
	}

	sqlQuery := m.s.rebind(`SELECT ` + memoryColumns + ` FROM memories
		WHERE user_id = ? AND agent_id = ? AND LOWER(content) LIKE ?
		ORDER BY created_at DESC`)

	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := m.s.db.QueryContext(ctx, sqlQuery, userID, agentID, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	var matched []*memory.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			slog.Warn("Skipping undecodable memory row", "error", err)
			continue
		}
		matched = append(matched, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	sort.SliceStable(matched, func(i, j int) bool {
		ci := strings.Count(strings.ToLower(matched[i].Content), q)
		cj := strings.Count(strings.ToLower(matched[j].Content), q)
		if ci != cj {
			return ci > cj
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Update applies a partial patch inside a transaction.
func (m *memOps) Update(ctx context.Context, userID, agentID, id string, update *memory.Update) error {
	tx, err := m.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx,
		m.s.rebind(`SELECT `+memoryColumns+` FROM memories WHERE id = ?`), id)
	mem, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if mem.UserID != userID {
		return fmt.Errorf("%w: memory %s", memory.ErrTenancy, id)
	}

	update.Apply(mem, m.s.nowFn())

	extras, err := encodeExtras(mem)
	if err != nil {
		return fmt.Errorf("failed to encode memory: %w", err)
	}

	_, err = tx.ExecContext(ctx, m.s.rebind(`UPDATE memories SET
		type = ?, content = ?, importance = ?, resonance = ?, updated_at = ?, data = ?
		WHERE id = ?`),
		string(mem.Type), mem.Content, mem.Importance, mem.Resonance,
		mem.UpdatedAt.UnixMilli(), extras, id)
	if err != nil {
		return fmt.Errorf("failed to update memory: %w", err)
	}
	return tx.Commit()
}

// Delete removes a memory, its edges, and its embedding in one
// transaction.
func (m *memOps) Delete(ctx context.Context, userID, agentID, id string) error {
	tx, err := m.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var owner string
	err = tx.QueryRowContext(ctx,
		m.s.rebind(`SELECT user_id FROM memories WHERE id = ?`), id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return fmt.Errorf("%w: memory %s", memory.ErrTenancy, id)
	}

	if err := deleteMemoryRows(ctx, tx, m.s, []string{id}); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteMemoryRows removes memories and every row referencing them.
func deleteMemoryRows(ctx context.Context, tx *sql.Tx, s *Store, ids []string) error {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ", ")

	statements := []string{
		`DELETE FROM memories WHERE id IN (` + in + `)`,
		`DELETE FROM memory_embeddings WHERE memory_id IN (` + in + `)`,
		`DELETE FROM memory_connections WHERE source_id IN (` + in + `)`,
		`DELETE FROM memory_connections WHERE target_id IN (` + in + `)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, s.rebind(stmt), args...); err != nil {
			return fmt.Errorf("failed to delete memory rows: %w", err)
		}
	}
	return nil
}

// GetByID fetches one memory, or (nil, nil) when absent. Undecodable
// rows are logged and reported absent.
func (m *memOps) GetByID(ctx context.Context, userID, id string) (*memory.Memory, error) {
	row := m.s.db.QueryRowContext(ctx,
		m.s.rebind(`SELECT `+memoryColumns+` FROM memories WHERE id = ? AND user_id = ?`),
		id, userID)

	mem, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Warn("Skipping undecodable memory row", "id", id, "error", err)
		return nil, nil
	}
	return mem, nil
}

// GetStats aggregates counts and importance for a user.
func (m *memOps) GetStats(ctx context.Context, userID, agentID string) (*memory.Stats, error) {
	query := `SELECT type, COUNT(*), COALESCE(SUM(importance), 0), COALESCE(SUM(LENGTH(content)), 0)
		FROM memories WHERE user_id = ?`
	args := []any{userID}
	if agentID != "" {
		query += " AND agent_id = ?"
		args = append(args, agentID)
	}
	query += " GROUP BY type"

	rows, err := m.s.db.QueryContext(ctx, m.s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	defer rows.Close()

	stats := &memory.Stats{CountByType: make(map[memory.MemoryType]int)}
	var importanceSum float64
	for rows.Next() {
		var (
			memType string
			count   int
			impSum  float64
			size    int64
		)
		if err := rows.Scan(&memType, &count, &impSum, &size); err != nil {
			return nil, err
		}
		stats.Count += count
		stats.CountByType[memory.MemoryType(memType)] = count
		importanceSum += impSum
		stats.SizeBytes += size
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if stats.Count > 0 {
		stats.AvgImportance = importanceSum / float64(stats.Count)
	}
	return stats, nil
}

// ApplyDecay recomputes resonance for every (user, agent) memory in a
// single transaction.
func (m *memOps) ApplyDecay(ctx context.Context, userID, agentID string, rules *memory.DecayRules) (*memory.DecayResult, error) {
	if rules == nil {
		return nil, fmt.Errorf("%w: decay rules are required", memory.ErrValidation)
	}
	r := *rules
	r.SetDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}

	tx, err := m.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, m.s.rebind(`SELECT id, type, importance, resonance,
		access_count, last_accessed_at FROM memories WHERE user_id = ? AND agent_id = ?`),
		userID, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories for decay: %w", err)
	}

	now := m.s.nowFn()
	result := &memory.DecayResult{}
	type resonanceUpdate struct {
		id        string
		resonance float64
	}
	var (
		updates []resonanceUpdate
		removed []string
	)
	for rows.Next() {
		var (
			id       string
			memType  string
			mem      memory.Memory
			accessed int64
		)
		if err := rows.Scan(&id, &memType, &mem.Importance, &mem.Resonance,
			&mem.AccessCount, &accessed); err != nil {
			rows.Close()
			return nil, err
		}
		mem.LastAccessedAt = time.UnixMilli(accessed)
		result.Processed++

		next := memory.NextResonance(&mem, &r, now)
		if next <= r.Floor && memory.MemoryType(memType) != memory.TypeSemantic {
			removed = append(removed, id)
			continue
		}
		if next != mem.Resonance {
			updates = append(updates, resonanceUpdate{id: id, resonance: next})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	updateQuery := m.s.rebind(`UPDATE memories SET resonance = ?, updated_at = ? WHERE id = ?`)
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, updateQuery, u.resonance, now.UnixMilli(), u.id); err != nil {
			return nil, fmt.Errorf("failed to update resonance: %w", err)
		}
		result.Decayed++
	}

	if len(removed) > 0 {
		if err := deleteMemoryRows(ctx, tx, m.s, removed); err != nil {
			return nil, err
		}
		result.Removed = len(removed)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateConnections inserts edges with max-strength deduplication.
func (m *memOps) CreateConnections(ctx context.Context, userID string, connections []*memory.Connection) error {
	tx, err := m.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ownerQuery := m.s.rebind(`SELECT user_id FROM memories WHERE id = ?`)
	existingQuery := m.s.rebind(`SELECT strength FROM memory_connections WHERE source_id = ? AND target_id = ?`)
	updateQuery := m.s.rebind(`UPDATE memory_connections SET strength = ? WHERE source_id = ? AND target_id = ?`)
	insertQuery := m.s.rebind(`INSERT INTO memory_connections
		(user_id, source_id, target_id, type, strength, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	now := m.s.nowFn()
	for _, conn := range connections {
		if err := conn.Validate(); err != nil {
			return err
		}

		for _, id := range []string{conn.SourceID, conn.TargetID} {
			var owner string
			err := tx.QueryRowContext(ctx, ownerQuery, id).Scan(&owner)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: connection endpoint %s", memory.ErrNotFound, id)
			}
			if err != nil {
				return err
			}
			if owner != userID {
				return fmt.Errorf("%w: connection endpoint %s", memory.ErrTenancy, id)
			}
		}

		var existing float64
		err := tx.QueryRowContext(ctx, existingQuery, conn.SourceID, conn.TargetID).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			createdAt := conn.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			if _, err := tx.ExecContext(ctx, insertQuery, userID, conn.SourceID, conn.TargetID,
				string(conn.Type), conn.Strength, nullString(conn.Reason),
				createdAt.UnixMilli()); err != nil {
				return fmt.Errorf("failed to insert connection: %w", err)
			}
		case err != nil:
			return err
		case conn.Strength > existing:
			if _, err := tx.ExecContext(ctx, updateQuery, conn.Strength,
				conn.SourceID, conn.TargetID); err != nil {
				return fmt.Errorf("failed to update connection strength: %w", err)
			}
		}
	}
	return tx.Commit()
}

// FindConnected walks the connection graph breadth-first. The user's
// whole edge set is loaded once and traversed in memory.
func (m *memOps) FindConnected(ctx context.Context, userID, memoryID string, depth int, minStrength float64) (*memory.Graph, error) {
	seed, err := m.GetByID(ctx, userID, memoryID)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, memoryID)
	}

	rows, err := m.s.db.QueryContext(ctx, m.s.rebind(`SELECT source_id, target_id, type,
		strength, reason, created_at FROM memory_connections
		WHERE user_id = ? AND strength >= ?`), userID, minStrength)
	if err != nil {
		return nil, fmt.Errorf("failed to load connections: %w", err)
	}
	defer rows.Close()

	var edges []*memory.Connection
	adjacency := make(map[string][]string)
	for rows.Next() {
		var (
			conn    memory.Connection
			reason  sql.NullString
			created int64
			ctype   string
		)
		if err := rows.Scan(&conn.SourceID, &conn.TargetID, &ctype,
			&conn.Strength, &reason, &created); err != nil {
			return nil, err
		}
		conn.Type = memory.ConnectionType(ctype)
		conn.Reason = reason.String
		conn.CreatedAt = time.UnixMilli(created)
		edges = append(edges, &conn)
		adjacency[conn.SourceID] = append(adjacency[conn.SourceID], conn.TargetID)
		adjacency[conn.TargetID] = append(adjacency[conn.TargetID], conn.SourceID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	visited := map[string]bool{memoryID: true}
	frontier := []string{memoryID}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, neighbour := range adjacency[id] {
				if !visited[neighbour] {
					visited[neighbour] = true
					next = append(next, neighbour)
				}
			}
		}
		frontier = next
	}

	graph := &memory.Graph{}
	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		mem, err := m.GetByID(ctx, userID, id)
		if err != nil || mem == nil {
			continue
		}
		graph.Memories = append(graph.Memories, mem)
	}

	for _, edge := range edges {
		if visited[edge.SourceID] && visited[edge.TargetID] {
			graph.Connections = append(graph.Connections, edge)
		}
	}
	sort.Slice(graph.Connections, func(i, j int) bool {
		if graph.Connections[i].SourceID != graph.Connections[j].SourceID {
			return graph.Connections[i].SourceID < graph.Connections[j].SourceID
		}
		return graph.Connections[i].TargetID < graph.Connections[j].TargetID
	})

	return graph, nil
}

// SaveEmbedding stores a vector for a memory.
func (m *memOps) SaveEmbedding(ctx context.Context, userID, memoryID string, embedding []float32, model string) error {
	owner, err := m.GetByID(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	if owner == nil {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, memoryID)
	}

	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}

	var query string
	if m.s.dialect == "mysql" {
		query = `INSERT INTO memory_embeddings (memory_id, user_id, model, vector) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE model = VALUES(model), vector = VALUES(vector)`
	} else {
		query = `INSERT INTO memory_embeddings (memory_id, user_id, model, vector) VALUES (?, ?, ?, ?)
			ON CONFLICT (memory_id) DO UPDATE SET model = excluded.model, vector = excluded.vector`
	}

	if _, err := m.s.db.ExecContext(ctx, m.s.rebind(query), memoryID, userID, model, string(data)); err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// GetStoredEmbedding returns the vector for a memory, or (nil, nil).
func (m *memOps) GetStoredEmbedding(ctx context.Context, userID, memoryID string) ([]float32, error) {
	var raw string
	err := m.s.db.QueryRowContext(ctx, m.s.rebind(`SELECT vector FROM memory_embeddings
		WHERE memory_id = ? AND user_id = ?`), memoryID, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding: %w", err)
	}

	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		slog.Warn("Skipping undecodable embedding row", "memory_id", memoryID, "error", err)
		return nil, nil
	}
	return vec, nil
}

// DeleteEmbedding removes the vector for a memory.
func (m *memOps) DeleteEmbedding(ctx context.Context, userID, memoryID string) error {
	_, err := m.s.db.ExecContext(ctx, m.s.rebind(`DELETE FROM memory_embeddings
		WHERE memory_id = ? AND user_id = ?`), memoryID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}

var (
	_ memory.Operations     = (*memOps)(nil)
	_ memory.EmbeddingStore = (*memOps)(nil)
)
