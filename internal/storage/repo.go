package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/memorall/core/internal/crypto"
	"github.com/memorall/core/internal/errkind"
	"github.com/memorall/core/internal/idgen"
	"github.com/memorall/core/internal/jsonx"
	"github.com/memorall/core/internal/storage/model"
)

// Repo provides typed query helpers over the schema in §3/§4.4, the SQL
// analogue of the teacher's graph.QueryBuilder.
type Repo struct {
	pool *pgxpool.Pool
}

// NewRepo builds a Repo over an already-migrated Store.
func NewRepo(store *Store) *Repo {
	return &Repo{pool: store.Pool()}
}

// NewRepoFromPool builds a Repo directly over a pool (used by tests against
// a throwaway database).
func NewRepoFromPool(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// --- topic ---

func (r *Repo) UpsertTopic(ctx context.Context, name, description string) (idgen.ID, error) {
	var id idgen.ID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO topic (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		RETURNING id`, name, description).Scan(&id)
	if err != nil {
		return idgen.Nil, errkind.Wrap(errkind.QueryError, "upsert topic", err)
	}
	return id, nil
}

// --- remembered_content ---

// InsertRememberedContent persists a new capture and returns its id. Captures
// are immutable once created per §3's lifecycle note.
func (r *Repo) InsertRememberedContent(ctx context.Context, c *model.RememberedContent) (idgen.ID, error) {
	var id idgen.ID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO remembered_content
			(source_type, source_url, original_url, title, raw_content, clean_content,
			 text_content, source_metadata, extraction_metadata, topic_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id`,
		c.SourceType, c.SourceURL, c.OriginalURL, c.Title, c.RawContent, c.CleanContent,
		c.TextContent, c.SourceMetadata, c.ExtractionMetadata, c.TopicID).Scan(&id)
	if err != nil {
		return idgen.Nil, errkind.Wrap(errkind.QueryError, "insert remembered_content", err)
	}
	return id, nil
}

func (r *Repo) GetRememberedContent(ctx context.Context, id idgen.ID) (*model.RememberedContent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, source_type, source_url, original_url, title, raw_content, clean_content,
		       text_content, source_metadata, extraction_metadata, topic_id, created_at, updated_at
		FROM remembered_content WHERE id = $1`, id)

	c := &model.RememberedContent{}
	err := row.Scan(&c.ID, &c.SourceType, &c.SourceURL, &c.OriginalURL, &c.Title, &c.RawContent,
		&c.CleanContent, &c.TextContent, &c.SourceMetadata, &c.ExtractionMetadata, &c.TopicID,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errkind.Wrap(errkind.QueryError, "remembered_content not found", err)
		}
		return nil, errkind.Wrap(errkind.QueryError, "get remembered_content", err)
	}
	return c, nil
}

// --- source ---

func (r *Repo) InsertSource(ctx context.Context, targetType string, targetID idgen.ID) (idgen.ID, error) {
	var id idgen.ID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO source (target_type, target_id, status) VALUES ($1, $2, 'pending')
		RETURNING id`, targetType, targetID).Scan(&id)
	if err != nil {
		return idgen.Nil, errkind.Wrap(errkind.QueryError, "insert source", err)
	}
	return id, nil
}

func (r *Repo) GetSourceByTarget(ctx context.Context, targetType string, targetID idgen.ID) (*model.Source, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, target_type, target_id, status, status_valid_from, created_at, updated_at
		FROM source WHERE target_type = $1 AND target_id = $2`, targetType, targetID)
	s := &model.Source{}
	err := row.Scan(&s.ID, &s.TargetType, &s.TargetID, &s.Status, &s.StatusValidFrom, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "get source", err)
	}
	return s, nil
}

func (r *Repo) SetSourceStatus(ctx context.Context, id idgen.ID, status model.SourceStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE source SET status = $2, status_valid_from = now() WHERE id = $1`, id, status)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "set source status", err)
	}
	return nil
}

// SetSourceStatusTx is SetSourceStatus scoped to an in-flight transaction,
// used by the commit stage so the source row's terminal status lands
// atomically with the graph rows it produced (§4.8 stage 8).
func (r *Repo) SetSourceStatusTx(ctx context.Context, tx pgx.Tx, id idgen.ID, status model.SourceStatus) error {
	_, err := tx.Exec(ctx, `
		UPDATE source SET status = $2, status_valid_from = now() WHERE id = $1`, id, status)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "set source status", err)
	}
	return nil
}

// --- node ---

// FindNodeByNameType looks up a node by the (graph, name, node_type) key
// from §3: graph and node_type must match exactly and name is compared
// case-insensitively through lower() in the query. resolve_entities uses it
// as its cheap first check.
func (r *Repo) FindNodeByNameType(ctx context.Context, graph, name, nodeType string) (*model.Node, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, graph, node_type, name, summary, attributes, created_at, updated_at
		FROM node WHERE graph = $1 AND lower(name) = lower($2) AND node_type = $3
		ORDER BY created_at ASC LIMIT 1`, graph, name, nodeType)
	n := &model.Node{}
	err := row.Scan(&n.ID, &n.Graph, &n.NodeType, &n.Name, &n.Summary, &n.Attributes, &n.CreatedAt, &n.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "find node by name/type", err)
	}
	return n, nil
}

func (r *Repo) GetNode(ctx context.Context, id idgen.ID) (*model.Node, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, graph, node_type, name, summary, attributes, created_at, updated_at
		FROM node WHERE id = $1`, id)
	n := &model.Node{}
	err := row.Scan(&n.ID, &n.Graph, &n.NodeType, &n.Name, &n.Summary, &n.Attributes, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "get node", err)
	}
	return n, nil
}

// InsertNode inserts a new node with its name_embedding, minted only at
// commit time per §4.8 stage 8.
func (r *Repo) InsertNode(ctx context.Context, tx pgx.Tx, n *model.Node) (idgen.ID, error) {
	var id idgen.ID
	var emb any
	if n.NameEmbedding != nil {
		emb = pgvector.NewVector(n.NameEmbedding)
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO node (graph, node_type, name, summary, attributes, name_embedding)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		n.Graph, n.NodeType, n.Name, n.Summary, n.Attributes, emb).Scan(&id)
	if err != nil {
		return idgen.Nil, errkind.Wrap(errkind.QueryError, "insert node", err)
	}
	return id, nil
}

// SQLContainsNodes implements the "exact/contains" source of §4.7 step 1.
func (r *Repo) SQLContainsNodes(ctx context.Context, terms []string, graph *string, limit int) ([]model.Node, error) {
	where := "WHERE ("
	args := []any{}
	for i, t := range terms {
		if i > 0 {
			where += " OR "
		}
		args = append(args, "%"+t+"%")
		where += fmt.Sprintf("name ILIKE $%d", len(args))
	}
	where += ")"
	if graph != nil {
		args = append(args, *graph)
		where += fmt.Sprintf(" AND graph = $%d", len(args))
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id, graph, node_type, name, summary, attributes, created_at, updated_at
		FROM node %s ORDER BY name LIMIT $%d`, where, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "sql contains nodes", err)
	}
	defer rows.Close()

	var out []model.Node
	for rows.Next() {
		var n model.Node
		if err := rows.Scan(&n.ID, &n.Graph, &n.NodeType, &n.Name, &n.Summary, &n.Attributes, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, errkind.Wrap(errkind.QueryError, "scan node", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// SQLContainsEdges implements the "exact/contains" source of §4.7 step 1 for
// edges, matching edge_type or fact_text.
func (r *Repo) SQLContainsEdges(ctx context.Context, terms []string, graph *string, limit int) ([]model.Edge, error) {
	where := "WHERE ("
	args := []any{}
	for i, t := range terms {
		if i > 0 {
			where += " OR "
		}
		args = append(args, "%"+t+"%")
		where += fmt.Sprintf("(edge_type ILIKE $%d OR fact_text ILIKE $%d)", len(args), len(args))
	}
	where += ")"
	if graph != nil {
		args = append(args, *graph)
		where += fmt.Sprintf(" AND graph = $%d", len(args))
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id, graph, source_id, destination_id, edge_type, fact_text, is_current, attributes, created_at, updated_at
		FROM edge %s ORDER BY recorded_at DESC LIMIT $%d`, where, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "sql contains edges", err)
	}
	defer rows.Close()

	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		if err := rows.Scan(&e.ID, &e.Graph, &e.SourceID, &e.DestinationID, &e.EdgeType, &e.FactText,
			&e.IsCurrent, &e.Attributes, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, errkind.Wrap(errkind.QueryError, "scan edge", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// VectorSearchNodes implements §4.7 step 2 for nodes: cosine distance over
// name_embedding via pgvector's <=> operator. Threshold filters the result
// the way the boundary test in §8 ("threshold > 1 -> empty") requires:
// cosine distance is in [0,2], similarity = 1-distance/2 must be at least
// threshold for the row to survive.
func (r *Repo) VectorSearchNodes(ctx context.Context, queryVec []float32, graph *string, limit int, threshold float64) ([]model.Node, error) {
	args := []any{pgvector.NewVector(queryVec)}
	where := "WHERE name_embedding IS NOT NULL"
	if graph != nil {
		args = append(args, *graph)
		where += fmt.Sprintf(" AND graph = $%d", len(args))
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id, graph, node_type, name, summary, attributes, created_at, updated_at,
		       1 - (name_embedding <=> $1) / 2 AS similarity_score
		FROM node %s
		ORDER BY name_embedding <=> $1 ASC
		LIMIT $%d`, where, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "vector search nodes", err)
	}
	defer rows.Close()

	var out []model.Node
	for rows.Next() {
		var n model.Node
		if err := rows.Scan(&n.ID, &n.Graph, &n.NodeType, &n.Name, &n.Summary, &n.Attributes, &n.CreatedAt, &n.UpdatedAt, &n.SimilarityScore); err != nil {
			return nil, errkind.Wrap(errkind.QueryError, "scan node", err)
		}
		if n.SimilarityScore < threshold {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// VectorSearchEdges implements §4.7 step 2 for edges: max(fact_embedding,
// type_embedding) cosine similarity.
func (r *Repo) VectorSearchEdges(ctx context.Context, queryVec []float32, graph *string, limit int, threshold float64) ([]model.Edge, error) {
	vec := pgvector.NewVector(queryVec)
	args := []any{vec, vec}
	where := "WHERE (fact_embedding IS NOT NULL OR type_embedding IS NOT NULL)"
	if graph != nil {
		args = append(args, *graph)
		where += fmt.Sprintf(" AND graph = $%d", len(args))
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id, graph, source_id, destination_id, edge_type, fact_text, is_current, attributes, created_at, updated_at,
		       GREATEST(
		         1 - coalesce(fact_embedding <=> $1, 2) / 2,
		         1 - coalesce(type_embedding <=> $2, 2) / 2
		       ) AS similarity_score
		FROM edge %s
		ORDER BY similarity_score DESC
		LIMIT $%d`, where, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "vector search edges", err)
	}
	defer rows.Close()

	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		if err := rows.Scan(&e.ID, &e.Graph, &e.SourceID, &e.DestinationID, &e.EdgeType, &e.FactText,
			&e.IsCurrent, &e.Attributes, &e.CreatedAt, &e.UpdatedAt, &e.SimilarityScore); err != nil {
			return nil, errkind.Wrap(errkind.QueryError, "scan edge", err)
		}
		if e.SimilarityScore < threshold {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// TrigramSearchNodes calls the stored search_nodes_trigram function (§4.4).
func (r *Repo) TrigramSearchNodes(ctx context.Context, q string, threshold float64, limit int) ([]model.Node, error) {
	rows, err := r.pool.Query(ctx, `SELECT * FROM search_nodes_trigram($1, $2, $3)`, q, threshold, limit)
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "trigram search nodes", err)
	}
	defer rows.Close()

	var out []model.Node
	for rows.Next() {
		var n model.Node
		if err := rows.Scan(&n.ID, &n.Graph, &n.NodeType, &n.Name, &n.Summary, &n.Attributes, &n.SimilarityScore); err != nil {
			return nil, errkind.Wrap(errkind.QueryError, "scan trigram node", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// TrigramSearchEdges calls the stored search_edges_trigram function (§4.4).
func (r *Repo) TrigramSearchEdges(ctx context.Context, q string, threshold float64, limit int) ([]model.Edge, error) {
	rows, err := r.pool.Query(ctx, `SELECT * FROM search_edges_trigram($1, $2, $3)`, q, threshold, limit)
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "trigram search edges", err)
	}
	defer rows.Close()

	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		if err := rows.Scan(&e.ID, &e.Graph, &e.SourceID, &e.DestinationID, &e.EdgeType, &e.FactText, &e.IsCurrent, &e.Attributes, &e.SimilarityScore); err != nil {
			return nil, errkind.Wrap(errkind.QueryError, "scan trigram edge", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// --- edge ---

// FindCurrentEdge finds the current edge for an exact (source, destination,
// edge_type) triple — the cheap first check in §4.8 stage 6.
func (r *Repo) FindCurrentEdge(ctx context.Context, graph string, sourceID, destID idgen.ID, edgeType string) (*model.Edge, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, graph, source_id, destination_id, edge_type, fact_text, valid_at, invalid_at,
		       recorded_at, is_current, attributes, provenance_weight_cache, provenance_count_cache,
		       created_at, updated_at
		FROM edge
		WHERE graph = $1 AND source_id = $2 AND destination_id = $3 AND edge_type = $4 AND is_current = true`,
		graph, sourceID, destID, edgeType)
	e := &model.Edge{}
	err := row.Scan(&e.ID, &e.Graph, &e.SourceID, &e.DestinationID, &e.EdgeType, &e.FactText, &e.ValidAt,
		&e.InvalidAt, &e.RecordedAt, &e.IsCurrent, &e.Attributes, &e.ProvenanceWeightCache, &e.ProvenanceCountCache,
		&e.CreatedAt, &e.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "find current edge", err)
	}
	return e, nil
}

// CandidateEdgesBetween loads edges (current or not) between any pair of the
// given node ids, in either direction, for §4.8 stage 5.
func (r *Repo) CandidateEdgesBetween(ctx context.Context, graph string, nodeIDs []idgen.ID) ([]model.Edge, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, graph, source_id, destination_id, edge_type, fact_text, valid_at, invalid_at,
		       recorded_at, is_current, attributes, provenance_weight_cache, provenance_count_cache,
		       created_at, updated_at, fact_embedding
		FROM edge
		WHERE graph = $1 AND (source_id = ANY($2) AND destination_id = ANY($2))`, graph, nodeIDs)
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "candidate edges between", err)
	}
	defer rows.Close()

	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		var vec *pgvector.Vector
		if err := rows.Scan(&e.ID, &e.Graph, &e.SourceID, &e.DestinationID, &e.EdgeType, &e.FactText, &e.ValidAt,
			&e.InvalidAt, &e.RecordedAt, &e.IsCurrent, &e.Attributes, &e.ProvenanceWeightCache, &e.ProvenanceCountCache,
			&e.CreatedAt, &e.UpdatedAt, &vec); err != nil {
			return nil, errkind.Wrap(errkind.QueryError, "scan candidate edge", err)
		}
		if vec != nil {
			s := vec.Slice()
			e.FactEmbedding = s
		}
		out = append(out, e)
	}
	return out, nil
}

// InsertEdge inserts a new current edge with its embeddings.
func (r *Repo) InsertEdge(ctx context.Context, tx pgx.Tx, e *model.Edge) (idgen.ID, error) {
	var id idgen.ID
	var factEmb, typeEmb any
	if e.FactEmbedding != nil {
		factEmb = pgvector.NewVector(e.FactEmbedding)
	}
	if e.TypeEmbedding != nil {
		typeEmb = pgvector.NewVector(e.TypeEmbedding)
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO edge (graph, source_id, destination_id, edge_type, fact_text, valid_at, invalid_at,
		                   is_current, attributes, fact_embedding, type_embedding, provenance_weight_cache,
		                   provenance_count_cache)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		e.Graph, e.SourceID, e.DestinationID, e.EdgeType, e.FactText, e.ValidAt, e.InvalidAt,
		e.IsCurrent, e.Attributes, factEmb, typeEmb, e.ProvenanceWeightCache, e.ProvenanceCountCache).Scan(&id)
	if err != nil {
		return idgen.Nil, errkind.Wrap(errkind.QueryError, "insert edge", err)
	}
	return id, nil
}

// InvalidateEdge sets invalid_at/is_current=false on re-assertion contradiction
// (§4.8 stage 6).
func (r *Repo) InvalidateEdge(ctx context.Context, tx pgx.Tx, id idgen.ID, invalidAt time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE edge SET invalid_at = $2, is_current = false WHERE id = $1`, id, invalidAt)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "invalidate edge", err)
	}
	return nil
}

// BumpProvenance increments provenance_count_cache and recomputes
// provenance_weight_cache using the formula in DESIGN.md/SPEC_FULL §9.
func (r *Repo) BumpProvenance(ctx context.Context, tx pgx.Tx, id idgen.ID) error {
	_, err := tx.Exec(ctx, `
		UPDATE edge SET provenance_count_cache = provenance_count_cache + 1,
		                provenance_weight_cache = 1 - exp(-(provenance_count_cache + 1) / 3.0)
		WHERE id = $1`, id)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "bump provenance", err)
	}
	return nil
}

// --- provenance joins ---

func (r *Repo) InsertSourceNode(ctx context.Context, tx pgx.Tx, sourceID, nodeID idgen.ID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO source_node (source_id, node_id) VALUES ($1, $2)
		ON CONFLICT (source_id, node_id) DO NOTHING`, sourceID, nodeID)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "insert source_node", err)
	}
	return nil
}

func (r *Repo) InsertSourceEdge(ctx context.Context, tx pgx.Tx, sourceID, edgeID idgen.ID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO source_edge (source_id, edge_id) VALUES ($1, $2)
		ON CONFLICT (source_id, edge_id) DO NOTHING`, sourceID, edgeID)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "insert source_edge", err)
	}
	return nil
}

// GetConfiguration loads the JSON blob stored under key, returning
// (nil, nil) if unset.
func (r *Repo) GetConfiguration(ctx context.Context, key string) (map[string]any, error) {
	var value []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM configuration WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "get configuration", err)
	}
	var out map[string]any
	if err := jsonx.Unmarshal(value, &out); err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "decode configuration", err)
	}
	return out, nil
}

// SetConfiguration upserts the JSON blob stored under key.
func (r *Repo) SetConfiguration(ctx context.Context, key string, value map[string]any) error {
	data, err := jsonx.Marshal(value)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "encode configuration", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO configuration (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, data)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "set configuration", err)
	}
	return nil
}

// GetSecret decrypts the ciphertext stored under key via box, returning
// ("", nil) if unset (§4.1's encryption-at-rest for runner API keys).
func (r *Repo) GetSecret(ctx context.Context, box *crypto.Box, key string) (string, error) {
	var ciphertext string
	err := r.pool.QueryRow(ctx, `SELECT ciphertext FROM encryption WHERE key = $1`, key).Scan(&ciphertext)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errkind.Wrap(errkind.QueryError, "get secret", err)
	}
	plaintext, err := box.Decrypt(ciphertext)
	if err != nil {
		return "", errkind.Wrap(errkind.QueryError, "decrypt secret", err)
	}
	return plaintext, nil
}

// SetSecret encrypts plaintext via box and upserts it under key.
func (r *Repo) SetSecret(ctx context.Context, box *crypto.Box, key, plaintext string) error {
	ciphertext, err := box.Encrypt(plaintext)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "encrypt secret", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO encryption (key, ciphertext) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET ciphertext = EXCLUDED.ciphertext`, key, ciphertext)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "set secret", err)
	}
	return nil
}

// BeginTx exposes a raw transaction for the ingestion pipeline's single
// commit-stage transaction (§4.8 stage 8).
func (r *Repo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "begin tx", err)
	}
	return tx, nil
}
