// Package postgres provides the Postgres-backed mention repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentionhub/mentiond/internal/mention"
	"github.com/mentionhub/mentiond/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements store.MentionRepository on Postgres.
type Store struct {
	pool  dbPool
	clock mention.Clock
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config, clock mention.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewWithPool(pool, clock)
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool, clock mention.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Store{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

type mentionRow struct {
	id          int64
	url         string
	interaction bool
	removed     bool
	updated     *time.Time
}

// Reconcile applies one resolution pass inside a single transaction. The
// entry row is upserted (published set once), the interactions list unions in
// the pass's interaction targets, and the mention set is reconciled against
// src.Targets: absent targets tombstone, reappearing ones revive.
func (s *Store) Reconcile(ctx context.Context, src store.ResolvedSource) (store.ReconcileResult, error) {
	if src.URL == "" {
		return store.ReconcileResult{}, fmt.Errorf("source url is required")
	}
	now := s.clock.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.ReconcileResult{}, fmt.Errorf("begin reconcile: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	entry, err := s.upsertEntry(ctx, tx, src, now)
	if err != nil {
		return store.ReconcileResult{}, err
	}

	existing, err := loadMentionRows(ctx, tx, entry.ID)
	if err != nil {
		return store.ReconcileResult{}, err
	}

	result := store.ReconcileResult{Entry: entry}
	discovered := map[string]bool{}
	for _, target := range dedupeTargets(src.Targets) {
		key := mention.CanonicalKey(target.URL)
		discovered[key] = true
		row, ok := existing[key]
		switch {
		case !ok:
			var id int64
			err = tx.QueryRow(ctx,
				`INSERT INTO mentions (eid, url, interaction) VALUES ($1, $2, $3) RETURNING id`,
				entry.ID, target.URL, target.Interaction,
			).Scan(&id)
			if err != nil {
				return store.ReconcileResult{}, fmt.Errorf("insert mention: %w", err)
			}
			result.Created = append(result.Created, mention.Mention{
				ID:          id,
				EID:         entry.ID,
				URL:         target.URL,
				Interaction: target.Interaction,
			})
			result.Targets = append(result.Targets, target.URL)
		case row.removed:
			if _, err = tx.Exec(ctx,
				`UPDATE mentions SET removed = FALSE, interaction = $2, updated = $3 WHERE id = $1`,
				row.id, target.Interaction, now,
			); err != nil {
				return store.ReconcileResult{}, fmt.Errorf("revive mention: %w", err)
			}
			result.Targets = append(result.Targets, row.url)
		case row.interaction != target.Interaction:
			if _, err = tx.Exec(ctx,
				`UPDATE mentions SET interaction = $2, updated = $3 WHERE id = $1`,
				row.id, target.Interaction, now,
			); err != nil {
				return store.ReconcileResult{}, fmt.Errorf("update mention: %w", err)
			}
			result.Targets = append(result.Targets, row.url)
		default:
			result.Targets = append(result.Targets, row.url)
		}
	}

	for key, row := range existing {
		if discovered[key] || row.removed {
			continue
		}
		if _, err = tx.Exec(ctx,
			`UPDATE mentions SET removed = TRUE, interaction = FALSE, updated = $2 WHERE id = $1`,
			row.id, now,
		); err != nil {
			return store.ReconcileResult{}, fmt.Errorf("tombstone mention: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return store.ReconcileResult{}, fmt.Errorf("commit reconcile: %w", err)
	}
	return result, nil
}

// upsertEntry inserts or updates the entries row and returns its final state.
// published is immutable after the first insert; data.interactions only grows.
func (s *Store) upsertEntry(ctx context.Context, tx pgx.Tx, src store.ResolvedSource, now time.Time) (mention.Entry, error) {
	var (
		id        int64
		published time.Time
		curType   *string
		dataRaw   []byte
	)
	err := tx.QueryRow(ctx,
		`SELECT id, published, type, data FROM entries WHERE url = $1 FOR UPDATE`,
		src.URL,
	).Scan(&id, &published, &curType, &dataRaw)

	var existingData mention.EntryData
	exists := true
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		exists = false
	case err != nil:
		return mention.Entry{}, fmt.Errorf("load entry: %w", err)
	default:
		if err := json.Unmarshal(dataRaw, &existingData); err != nil {
			return mention.Entry{}, fmt.Errorf("decode entry data: %w", err)
		}
	}

	data := mention.EntryData{
		Author:       src.Author,
		Name:         src.Name,
		Summary:      src.Summary,
		Content:      src.Content,
		Interactions: existingData.Interactions,
	}
	entryType := mergeType(curType, &data, src.Targets)
	if data.Interactions == nil {
		data.Interactions = []string{}
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return mention.Entry{}, fmt.Errorf("encode entry data: %w", err)
	}

	if !exists {
		published = now
		err = tx.QueryRow(ctx,
			`INSERT INTO entries (url, published, updated, type, data, raw, mfversion)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			src.URL, now, now, entryType, dataJSON, src.Raw, src.MFVersion,
		).Scan(&id)
		if err != nil {
			return mention.Entry{}, fmt.Errorf("insert entry: %w", err)
		}
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE entries SET updated = $2, type = $3, data = $4, raw = $5, mfversion = $6 WHERE id = $1`,
			id, now, entryType, dataJSON, src.Raw, src.MFVersion,
		)
		if err != nil {
			return mention.Entry{}, fmt.Errorf("update entry: %w", err)
		}
	}

	entry := mention.Entry{
		ID:        id,
		URL:       src.URL,
		Published: published,
		Updated:   now,
		Data:      data,
		Raw:       src.Raw,
		MFVersion: src.MFVersion,
	}
	if entryType != nil {
		t := mention.InteractionType(*entryType)
		entry.Type = &t
	}
	return entry, nil
}

// mergeType unions the pass's interaction targets into data.Interactions and
// returns the recomputed type label: the kind of the most recently added
// interaction target wins; without one the existing label is kept, and an
// entry that merely links somewhere is labeled a plain mention.
func mergeType(current *string, data *mention.EntryData, targets []mention.Target) *string {
	known := map[string]bool{}
	for _, u := range data.Interactions {
		known[mention.CanonicalKey(u)] = true
	}
	var lastKind mention.InteractionType
	for _, t := range targets {
		if !t.Interaction {
			continue
		}
		key := mention.CanonicalKey(t.URL)
		if known[key] {
			continue
		}
		known[key] = true
		data.Interactions = append(data.Interactions, t.URL)
		lastKind = t.Kind
	}

	if lastKind != "" {
		v := string(lastKind)
		return &v
	}
	if current != nil {
		return current
	}
	if len(targets) > 0 {
		v := string(mention.InteractionMention)
		return &v
	}
	return nil
}

func loadMentionRows(ctx context.Context, tx pgx.Tx, eid int64) (map[string]mentionRow, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, url, interaction, removed, updated FROM mentions WHERE eid = $1 ORDER BY id`,
		eid,
	)
	if err != nil {
		return nil, fmt.Errorf("load mentions: %w", err)
	}
	defer rows.Close()

	out := map[string]mentionRow{}
	for rows.Next() {
		var row mentionRow
		if err := rows.Scan(&row.id, &row.url, &row.interaction, &row.removed, &row.updated); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		key := mention.CanonicalKey(row.url)
		if _, ok := out[key]; !ok {
			out[key] = row
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mentions: %w", err)
	}
	return out, nil
}

// dedupeTargets keeps the first occurrence per canonical URL, preferring to
// upgrade a plain link to an interaction if a later duplicate carries one.
func dedupeTargets(targets []mention.Target) []mention.Target {
	index := map[string]int{}
	var out []mention.Target
	for _, t := range targets {
		key := mention.CanonicalKey(t.URL)
		if i, ok := index[key]; ok {
			if t.Interaction && !out[i].Interaction {
				out[i].Interaction = true
				out[i].Kind = t.Kind
			}
			continue
		}
		index[key] = len(out)
		out = append(out, t)
	}
	return out
}

// ListMentions returns projections of entries owning at least one live
// mention row matched by the filter, ordered by entry published time.
func (s *Store) ListMentions(ctx context.Context, filter store.MentionFilter) ([]store.MentionView, error) {
	var (
		conds []string
		args  []any
	)
	if len(filter.URLs) > 0 {
		args = append(args, filter.URLs)
		conds = append(conds, fmt.Sprintf("m.url = ANY($%d)", len(args)))
	}
	if len(filter.Paths) > 0 {
		patterns := make([]string, 0, len(filter.Paths))
		for _, p := range filter.Paths {
			patterns = append(patterns, likeEscape(p)+"%")
		}
		args = append(args, patterns)
		conds = append(conds, fmt.Sprintf("m.url LIKE ANY($%d)", len(args)))
	}
	if filter.Site != "" {
		args = append(args, sitePatterns(filter.Site))
		conds = append(conds, fmt.Sprintf("m.url LIKE ANY($%d)", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " AND (" + strings.Join(conds, " OR ") + ")"
	}
	order := "ASC"
	if filter.Descending {
		order = "DESC"
	}

	query := `SELECT e.url, e.published, e.updated, e.type, e.data,
COALESCE((SELECT array_agg(m2.url ORDER BY m2.id) FROM mentions m2 WHERE m2.eid = e.id AND NOT m2.removed), '{}') AS targets
FROM entries e
WHERE EXISTS (SELECT 1 FROM mentions m WHERE m.eid = e.id AND NOT m.removed` + where + `)
ORDER BY e.published ` + order

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mentions: %w", err)
	}
	defer rows.Close()

	var views []store.MentionView
	for rows.Next() {
		var (
			entry   mention.Entry
			curType *string
			dataRaw []byte
			targets []string
		)
		if err := rows.Scan(&entry.URL, &entry.Published, &entry.Updated, &curType, &dataRaw, &targets); err != nil {
			return nil, fmt.Errorf("scan mention view: %w", err)
		}
		if err := json.Unmarshal(dataRaw, &entry.Data); err != nil {
			return nil, fmt.Errorf("decode entry data: %w", err)
		}
		if curType != nil {
			t := mention.InteractionType(*curType)
			entry.Type = &t
		}
		views = append(views, store.Project(entry, targets))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mention views: %w", err)
	}
	return views, nil
}

// sitePatterns expands a site filter into LIKE patterns covering both schemes
// and an optional "www." label, with and without a path.
func sitePatterns(site string) []string {
	host := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(site)), "www.")
	host = likeEscape(host)
	var patterns []string
	for _, scheme := range []string{"http://", "https://"} {
		for _, h := range []string{host, "www." + host} {
			patterns = append(patterns, scheme+h, scheme+h+"/%", scheme+h+"?%")
		}
	}
	return patterns
}

func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
