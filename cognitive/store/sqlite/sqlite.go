// Package sqlite implements the metadata store on SQLite: memory records,
// the associative graph, the bridge cache, and the retrieval log.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/engramdb/engram/cognitive"
)

// Store implements cognitive.MetadataStore. Writes are serialized through a
// single writer mutex. The pool holds one connection, so reads are
// serialized with each other and with writes; they do not run concurrently.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// The single-writer discipline also holds at the driver level.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id            TEXT PRIMARY KEY,
		level         INTEGER NOT NULL,
		content       TEXT NOT NULL,
		dimensions    TEXT NOT NULL,
		vector_ref    TEXT NOT NULL UNIQUE,
		created_at    INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL,
		access_count  INTEGER NOT NULL DEFAULT 0,
		importance    REAL NOT NULL DEFAULT 0,
		parent_id     TEXT,
		memory_type   TEXT NOT NULL DEFAULT 'episodic',
		decay_rate    REAL NOT NULL,
		source_path   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_level ON memories(level);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
	CREATE INDEX IF NOT EXISTS idx_memories_access ON memories(access_count);
	CREATE INDEX IF NOT EXISTS idx_memories_source ON memories(source_path);
	CREATE INDEX IF NOT EXISTS idx_memories_stale ON memories(last_accessed);

	CREATE TABLE IF NOT EXISTS memory_connections (
		source_id        TEXT NOT NULL,
		target_id        TEXT NOT NULL,
		strength         REAL NOT NULL,
		kind             TEXT NOT NULL,
		created_at       INTEGER NOT NULL,
		last_activated   INTEGER NOT NULL,
		activation_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (source_id, target_id)
	);
	CREATE INDEX IF NOT EXISTS idx_connections_strength ON memory_connections(strength);
	CREATE INDEX IF NOT EXISTS idx_connections_target ON memory_connections(target_id);

	CREATE TABLE IF NOT EXISTS bridge_cache (
		fingerprint          TEXT NOT NULL,
		memory_id            TEXT NOT NULL,
		bridge_score         REAL NOT NULL,
		novelty_score        REAL NOT NULL,
		connection_potential REAL NOT NULL,
		created_at           INTEGER NOT NULL,
		PRIMARY KEY (fingerprint, memory_id)
	);
	CREATE INDEX IF NOT EXISTS idx_bridge_created ON bridge_cache(created_at);

	CREATE TABLE IF NOT EXISTS retrieval_stats (
		id          TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		memory_id   TEXT NOT NULL,
		kind        TEXT NOT NULL,
		success     REAL,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stats_fingerprint ON retrieval_stats(fingerprint);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) InsertMemory(ctx context.Context, m *cognitive.Memory) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	dims, err := json.Marshal(m.Dimensions)
	if err != nil {
		return fmt.Errorf("marshal dimensions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, level, content, dimensions, vector_ref, created_at,
		                       last_accessed, access_count, importance, parent_id,
		                       memory_type, decay_rate, source_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, int(m.Level), m.Content, string(dims), m.VectorRef,
		m.CreatedAt.UnixNano(), m.LastAccessed.UnixNano(), m.AccessCount,
		m.Importance, nullStr(m.ParentID), string(m.Type), m.DecayRate,
		nullStr(m.SourcePath))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *Store) GetMemory(ctx context.Context, id string) (*cognitive.Memory, error) {
	row := s.db.QueryRowContext(ctx, selectMemory+` WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memory %s: %w", id, cognitive.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// UpdateMemory rewrites the mutable statistics of a memory. The one-way
// episodic -> semantic transition and the non-decreasing access count are
// enforced here, under the single writer.
func (s *Store) UpdateMemory(ctx context.Context, m *cognitive.Memory) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories
		 SET last_accessed = MAX(last_accessed, ?),
		     access_count  = MAX(access_count, ?),
		     importance    = ?,
		     memory_type   = CASE WHEN memory_type = 'semantic' THEN 'semantic' ELSE ? END,
		     decay_rate    = ?
		 WHERE id = ?`,
		m.LastAccessed.UnixNano(), m.AccessCount, m.Importance,
		string(m.Type), m.DecayRate, m.ID)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", m.ID, cognitive.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteMemories(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ph := placeholders(len(ids))
	args := toArgs(ids)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_connections WHERE source_id IN (`+ph+`) OR target_id IN (`+ph+`)`,
		append(append([]interface{}{}, args...), args...)...); err != nil {
		return fmt.Errorf("delete connections: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bridge_cache WHERE memory_id IN (`+ph+`)`, args...); err != nil {
		return fmt.Errorf("delete bridge entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memories WHERE id IN (`+ph+`)`, args...); err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	return tx.Commit()
}

func (s *Store) MemoriesByLevel(ctx context.Context, level cognitive.Level, limit int) ([]*cognitive.Memory, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryMemories(ctx,
		selectMemory+` WHERE level = ? ORDER BY created_at DESC LIMIT ?`, int(level), limit)
}

func (s *Store) MemoriesBySource(ctx context.Context, sourcePath string) ([]*cognitive.Memory, error) {
	return s.queryMemories(ctx,
		selectMemory+` WHERE source_path = ? ORDER BY id`, sourcePath)
}

func (s *Store) AllMemories(ctx context.Context) ([]*cognitive.Memory, error) {
	return s.queryMemories(ctx, selectMemory+` ORDER BY created_at`)
}

func (s *Store) SampleStale(ctx context.Context, levels []cognitive.Level, exclude map[string]struct{}, n int) ([]*cognitive.Memory, error) {
	if n <= 0 || len(levels) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(levels)+len(exclude)+1)
	for _, l := range levels {
		args = append(args, int(l))
	}
	q := selectMemory + ` WHERE level IN (` + placeholders(len(levels)) + `)`
	if len(exclude) > 0 {
		ids := make([]string, 0, len(exclude))
		for id := range exclude {
			ids = append(ids, id)
		}
		q += ` AND id NOT IN (` + placeholders(len(ids)) + `)`
		args = append(args, toArgs(ids)...)
	}
	q += ` ORDER BY last_accessed ASC, id ASC LIMIT ?`
	args = append(args, n)
	return s.queryMemories(ctx, q, args...)
}

func (s *Store) TouchAccess(ctx context.Context, id string, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories
		 SET access_count = access_count + 1, last_accessed = MAX(last_accessed, ?)
		 WHERE id = ?`,
		at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("touch access: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", id, cognitive.ErrNotFound)
	}
	return nil
}

func (s *Store) Reinforce(ctx context.Context, sourceID, targetID string, kind cognitive.ConnectionKind, delta float64, at time.Time) (*cognitive.Connection, error) {
	if sourceID == targetID {
		return nil, fmt.Errorf("%w: self edge %s", cognitive.ErrValidation, sourceID)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memory_connections (source_id, target_id, strength, kind, created_at, last_activated, activation_count)
		 VALUES (?, ?, MIN(1.0, ?), ?, ?, ?, 1)
		 ON CONFLICT (source_id, target_id) DO UPDATE SET
		   strength = MIN(1.0, strength + excluded.strength),
		   last_activated = excluded.last_activated,
		   activation_count = activation_count + 1`,
		sourceID, targetID, delta, string(kind), at.UnixNano(), at.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("reinforce edge: %w", err)
	}

	c, err := scanConnection(tx.QueryRowContext(ctx, selectConnection+` WHERE source_id = ? AND target_id = ?`, sourceID, targetID))
	if err != nil {
		return nil, fmt.Errorf("read edge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) PutConnection(ctx context.Context, c *cognitive.Connection) error {
	if c.SourceID == c.TargetID {
		return fmt.Errorf("%w: self edge %s", cognitive.ErrValidation, c.SourceID)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memory_connections
		 (source_id, target_id, strength, kind, created_at, last_activated, activation_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.SourceID, c.TargetID, c.Strength, string(c.Kind),
		c.CreatedAt.UnixNano(), c.LastActivated.UnixNano(), c.ActivationCount)
	if err != nil {
		return fmt.Errorf("put connection: %w", err)
	}
	return nil
}

func (s *Store) Connection(ctx context.Context, sourceID, targetID string) (*cognitive.Connection, error) {
	c, err := scanConnection(s.db.QueryRowContext(ctx,
		selectConnection+` WHERE source_id = ? AND target_id = ?`, sourceID, targetID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

func (s *Store) OutgoingConnections(ctx context.Context, sourceID string) ([]*cognitive.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		selectConnection+` WHERE source_id = ? ORDER BY strength DESC, target_id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("outgoing connections: %w", err)
	}
	defer rows.Close()

	var out []*cognitive.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) IncidentStrengths(ctx context.Context, id string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strength FROM memory_connections WHERE source_id = ? OR target_id = ?`, id, id)
	if err != nil {
		return nil, fmt.Errorf("incident strengths: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var st float64
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) ConnectionCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_connections`).Scan(&n)
	return n, err
}

func (s *Store) PutBridgeEntries(ctx context.Context, entries []*cognitive.BridgeEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO bridge_cache
			 (fingerprint, memory_id, bridge_score, novelty_score, connection_potential, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.Fingerprint, e.MemoryID, e.BridgeScore, e.NoveltyScore,
			e.ConnectionPotential, e.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("put bridge entry: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) BridgeEntries(ctx context.Context, fingerprint string, notBefore time.Time) ([]*cognitive.BridgeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, memory_id, bridge_score, novelty_score, connection_potential, created_at
		 FROM bridge_cache
		 WHERE fingerprint = ? AND created_at >= ?
		 ORDER BY bridge_score DESC, memory_id`,
		fingerprint, notBefore.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("bridge entries: %w", err)
	}
	defer rows.Close()

	var out []*cognitive.BridgeEntry
	for rows.Next() {
		var e cognitive.BridgeEntry
		var created int64
		if err := rows.Scan(&e.Fingerprint, &e.MemoryID, &e.BridgeScore,
			&e.NoveltyScore, &e.ConnectionPotential, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) PurgeBridgeEntries(ctx context.Context, olderThan time.Time) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM bridge_cache WHERE created_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge bridge cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) AppendRetrievalStats(ctx context.Context, stats []*cognitive.RetrievalStat) error {
	if len(stats) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, st := range stats {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO retrieval_stats (id, fingerprint, memory_id, kind, success, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			st.ID, st.Fingerprint, st.MemoryID, string(st.Kind), st.Success, st.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("append stat: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) VectorRefs(ctx context.Context) (map[string]cognitive.Level, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT vector_ref, level FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("vector refs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]cognitive.Level)
	for rows.Next() {
		var ref string
		var level int
		if err := rows.Scan(&ref, &level); err != nil {
			return nil, err
		}
		out[ref] = cognitive.Level(level)
	}
	return out, rows.Err()
}

func (s *Store) CountByLevel(ctx context.Context) (map[cognitive.Level]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT level, COUNT(*) FROM memories GROUP BY level`)
	if err != nil {
		return nil, fmt.Errorf("count by level: %w", err)
	}
	defer rows.Close()

	out := map[cognitive.Level]int{
		cognitive.LevelConcept: 0,
		cognitive.LevelContext: 0,
		cognitive.LevelEpisode: 0,
	}
	for rows.Next() {
		var level, n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		out[cognitive.Level(level)] = n
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

const selectMemory = `SELECT id, level, content, dimensions, vector_ref, created_at,
	last_accessed, access_count, importance, parent_id, memory_type, decay_rate, source_path
	FROM memories`

const selectConnection = `SELECT source_id, target_id, strength, kind, created_at,
	last_activated, activation_count
	FROM memory_connections`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (*cognitive.Memory, error) {
	var m cognitive.Memory
	var level int
	var dims string
	var created, accessed int64
	var memType string
	var parent, source sql.NullString

	err := row.Scan(&m.ID, &level, &m.Content, &dims, &m.VectorRef,
		&created, &accessed, &m.AccessCount, &m.Importance,
		&parent, &memType, &m.DecayRate, &source)
	if err != nil {
		return nil, err
	}
	m.Level = cognitive.Level(level)
	m.CreatedAt = time.Unix(0, created)
	m.LastAccessed = time.Unix(0, accessed)
	m.Type = cognitive.MemoryType(memType)
	m.ParentID = parent.String
	m.SourcePath = source.String
	if err := json.Unmarshal([]byte(dims), &m.Dimensions); err != nil {
		return nil, fmt.Errorf("unmarshal dimensions: %w", err)
	}
	return &m, nil
}

func scanConnection(row scanner) (*cognitive.Connection, error) {
	var c cognitive.Connection
	var kind string
	var created, activated int64
	err := row.Scan(&c.SourceID, &c.TargetID, &c.Strength, &kind,
		&created, &activated, &c.ActivationCount)
	if err != nil {
		return nil, err
	}
	c.Kind = cognitive.ConnectionKind(kind)
	c.CreatedAt = time.Unix(0, created)
	c.LastActivated = time.Unix(0, activated)
	return &c, nil
}

func (s *Store) queryMemories(ctx context.Context, query string, args ...interface{}) ([]*cognitive.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*cognitive.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
