package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	sonic "github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"
	"github.com/riskibarqy/duel-ingest/internal/domain/detail"
	"github.com/riskibarqy/duel-ingest/internal/domain/match"
	"github.com/riskibarqy/duel-ingest/internal/domain/meta"
	"github.com/riskibarqy/duel-ingest/internal/domain/round"
	qb "github.com/riskibarqy/duel-ingest/internal/platform/querybuilder"
)

// batchSize bounds rows per multi-row statement and ids per IN list.
const batchSize = 200

const (
	upsertGameSuffix = `ON CONFLICT (match_id) DO UPDATE SET
    family = excluded.family,
    raw_mode_label = excluded.raw_mode_label,
    played_at_ms = excluded.played_at_ms`

	upsertDetailSuffix = `ON CONFLICT (match_id) DO UPDATE SET
    status = excluded.status,
    family = excluded.family,
    fetched_at_ms = excluded.fetched_at_ms,
    total_rounds = excluded.total_rounds,
    endpoint = excluded.endpoint,
    error = excluded.error,
    record = excluded.record,
    raw_payload = excluded.raw_payload`

	upsertRoundSuffix = `ON CONFLICT (match_id, round_number) DO UPDATE SET
    record = excluded.record`

	upsertMetaSuffix = `ON CONFLICT (meta_key) DO UPDATE SET
    value = excluded.value,
    updated_at_ms = excluded.updated_at_ms`
)

var (
	gameColumns   = qb.Columns(gameTableModel{})
	detailColumns = qb.Columns(detailTableModel{})
	roundColumns  = qb.Columns(roundTableModel{})
	metaColumns   = qb.Columns(metaTableModel{})
)

// Store implements every persistence contract over one sqlx handle. The
// same SQL runs on postgres and sqlite; bindvars are rebound per driver.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type DetailRepository struct {
	s *Store
}

type RoundRepository struct {
	s *Store
}

func (s *Store) Details() *DetailRepository { return &DetailRepository{s: s} }

func (s *Store) Rounds() *RoundRepository { return &RoundRepository{s: s} }

func (s *Store) List(ctx context.Context) ([]match.FeedMatch, error) {
	return s.listGames(ctx)
}

func (s *Store) ListByFamilies(ctx context.Context, families ...match.Family) ([]match.FeedMatch, error) {
	if len(families) == 0 {
		return nil, nil
	}
	values := make([]any, 0, len(families))
	for _, f := range families {
		values = append(values, string(f))
	}
	return s.listGames(ctx, qb.In("family", values))
}

func (s *Store) listGames(ctx context.Context, conditions ...qb.Condition) ([]match.FeedMatch, error) {
	query, args, err := qb.Select(gameColumns...).From("games").
		Where(conditions...).
		OrderBy("played_at_ms DESC", "match_id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select games query: %w", err)
	}

	var rows []gameTableModel
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select games: %w", err)
	}

	out := make([]match.FeedMatch, 0, len(rows))
	for _, row := range rows {
		out = append(out, match.FeedMatch{
			ID:           row.MatchID,
			Family:       match.Family(row.Family),
			PlayedAt:     fromMillis(row.PlayedAtMs),
			RawModeLabel: row.RawModeLabel,
		})
	}
	return out, nil
}

func (s *Store) UpsertMany(ctx context.Context, items []match.FeedMatch) error {
	if len(items) == 0 {
		return nil
	}

	rows := make([]gameTableModel, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		row := gameTableModel{
			MatchID:      item.ID,
			Family:       string(item.Family),
			RawModeLabel: item.RawModeLabel,
			PlayedAtMs:   toMillis(item.PlayedAt),
		}
		// One statement cannot touch the same conflict key twice.
		if idx, dup := seen[item.ID]; dup {
			rows[idx] = row
			continue
		}
		seen[item.ID] = len(rows)
		rows = append(rows, row)
	}

	return s.inTx(ctx, "upsert games", func(tx *sqlx.Tx) error {
		return execBatches(ctx, tx, "games", rows, upsertGameSuffix)
	})
}

func (r *DetailRepository) GetByMatchID(ctx context.Context, matchID string) (detail.GameDetail, bool, error) {
	query, args, err := qb.Select(detailColumns...).From("details").
		Where(qb.Eq("match_id", matchID)).
		ToSQL()
	if err != nil {
		return detail.GameDetail{}, false, fmt.Errorf("build select detail query: %w", err)
	}

	var row detailTableModel
	if err := r.s.db.GetContext(ctx, &row, r.s.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return detail.GameDetail{}, false, nil
		}
		return detail.GameDetail{}, false, fmt.Errorf("select detail match_id=%s: %w", matchID, err)
	}

	item, err := row.toDomain()
	if err != nil {
		return detail.GameDetail{}, false, err
	}
	return item, true, nil
}

func (r *DetailRepository) ListByMatchIDs(ctx context.Context, matchIDs []string) ([]detail.GameDetail, error) {
	out := make([]detail.GameDetail, 0, len(matchIDs))
	for _, chunk := range chunkStrings(matchIDs) {
		query, args, err := qb.Select(detailColumns...).From("details").
			Where(qb.InStrings("match_id", chunk)).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build select details query: %w", err)
		}

		var rows []detailTableModel
		if err := r.s.db.SelectContext(ctx, &rows, r.s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("select details: %w", err)
		}
		for _, row := range rows {
			item, err := row.toDomain()
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *DetailRepository) Upsert(ctx context.Context, item detail.GameDetail) error {
	return r.UpsertMany(ctx, []detail.GameDetail{item})
}

func (r *DetailRepository) UpsertMany(ctx context.Context, items []detail.GameDetail) error {
	if len(items) == 0 {
		return nil
	}

	rows := make([]detailTableModel, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, item := range items {
		if item.MatchID == "" {
			return fmt.Errorf("upsert detail: match id is required")
		}
		row, err := newDetailTableModel(item)
		if err != nil {
			return err
		}
		if idx, dup := seen[item.MatchID]; dup {
			rows[idx] = row
			continue
		}
		seen[item.MatchID] = len(rows)
		rows = append(rows, row)
	}

	return r.s.inTx(ctx, "upsert details", func(tx *sqlx.Tx) error {
		return execBatches(ctx, tx, "details", rows, upsertDetailSuffix)
	})
}

func (r *RoundRepository) ListByMatchIDs(ctx context.Context, matchIDs []string) ([]round.Round, error) {
	out := make([]round.Round, 0, len(matchIDs))
	for _, chunk := range chunkStrings(matchIDs) {
		query, args, err := qb.Select(roundColumns...).From("rounds").
			Where(qb.InStrings("match_id", chunk)).
			OrderBy("match_id", "round_number").
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build select rounds query: %w", err)
		}

		var rows []roundTableModel
		if err := r.s.db.SelectContext(ctx, &rows, r.s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("select rounds: %w", err)
		}
		for _, row := range rows {
			var rec roundRecord
			if err := sonic.UnmarshalString(row.Record, &rec); err != nil {
				return nil, fmt.Errorf("decode round %s: %w", round.Key(row.MatchID, row.RoundNumber), err)
			}
			out = append(out, rec.toRound(row.MatchID, row.RoundNumber))
		}
	}

	// Callers get rounds grouped by the order of matchIDs.
	order := make(map[string]int, len(matchIDs))
	for i, id := range matchIDs {
		if _, ok := order[id]; !ok {
			order[id] = i
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MatchID != out[j].MatchID {
			return order[out[i].MatchID] < order[out[j].MatchID]
		}
		return out[i].RoundNumber < out[j].RoundNumber
	})
	return out, nil
}

func (r *RoundRepository) CountByMatchIDs(ctx context.Context, matchIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(matchIDs))
	for _, chunk := range chunkStrings(matchIDs) {
		query, args, err := qb.Select("match_id", "COUNT(*) AS total").From("rounds").
			Where(qb.InStrings("match_id", chunk)).
			GroupBy("match_id").
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build count rounds query: %w", err)
		}

		var rows []struct {
			MatchID string `db:"match_id"`
			Total   int    `db:"total"`
		}
		if err := r.s.db.SelectContext(ctx, &rows, r.s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("count rounds: %w", err)
		}
		for _, row := range rows {
			out[row.MatchID] = row.Total
		}
	}
	return out, nil
}

func (r *RoundRepository) UpsertMany(ctx context.Context, items []round.Round) error {
	if len(items) == 0 {
		return nil
	}
	rows, err := newRoundTableModels(items)
	if err != nil {
		return err
	}
	return r.s.inTx(ctx, "upsert rounds", func(tx *sqlx.Tx) error {
		return execBatches(ctx, tx, "rounds", rows, upsertRoundSuffix)
	})
}

// SaveMatchResult replaces the detail and the whole round set of one match in
// a single transaction.
func (s *Store) SaveMatchResult(ctx context.Context, item detail.GameDetail, rounds []round.Round) error {
	if item.MatchID == "" {
		return fmt.Errorf("save match result: match id is required")
	}
	for _, r := range rounds {
		if r.MatchID != item.MatchID {
			return fmt.Errorf("save match result: round %d belongs to match %q, not %q", r.RoundNumber, r.MatchID, item.MatchID)
		}
	}

	detailRow, err := newDetailTableModel(item)
	if err != nil {
		return err
	}
	roundRows, err := newRoundTableModels(rounds)
	if err != nil {
		return err
	}

	return s.inTx(ctx, "save match result "+item.MatchID, func(tx *sqlx.Tx) error {
		if err := execBatches(ctx, tx, "details", []detailTableModel{detailRow}, upsertDetailSuffix); err != nil {
			return err
		}

		query, args, err := qb.DeleteFrom("rounds").Where(qb.Eq("match_id", item.MatchID)).ToSQL()
		if err != nil {
			return fmt.Errorf("build delete rounds query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("delete stored rounds match_id=%s: %w", item.MatchID, err)
		}

		if len(roundRows) == 0 {
			return nil
		}
		return execBatches(ctx, tx, "rounds", roundRows, upsertRoundSuffix)
	})
}

func (s *Store) Get(ctx context.Context, key string) (meta.Entry, bool, error) {
	query, args, err := qb.Select(metaColumns...).From("meta").Where(qb.Eq("meta_key", key)).ToSQL()
	if err != nil {
		return meta.Entry{}, false, fmt.Errorf("build select meta query: %w", err)
	}

	var row metaTableModel
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return meta.Entry{}, false, nil
		}
		return meta.Entry{}, false, fmt.Errorf("select meta key=%s: %w", key, err)
	}
	return meta.Entry{Key: row.Key, Value: []byte(row.Value), UpdatedAt: fromMillis(row.UpdatedAtMs)}, true, nil
}

func (s *Store) Put(ctx context.Context, item meta.Entry) error {
	if item.Key == "" {
		return fmt.Errorf("put meta: key is required")
	}
	row := metaTableModel{Key: item.Key, Value: string(item.Value), UpdatedAtMs: toMillis(item.UpdatedAt)}
	return s.inTx(ctx, "put meta "+item.Key, func(tx *sqlx.Tx) error {
		return execBatches(ctx, tx, "meta", []metaTableModel{row}, upsertMetaSuffix)
	})
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx %s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx %s: %w", op, err)
	}
	return nil
}

func execBatches[T any](ctx context.Context, tx *sqlx.Tx, table string, rows []T, suffix string) error {
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		query, args, err := qb.InsertModels(table, rows[start:end], suffix)
		if err != nil {
			return fmt.Errorf("build upsert %s query: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}
	return nil
}

func newDetailTableModel(item detail.GameDetail) (detailTableModel, error) {
	record, err := sonic.MarshalString(toDetailRecord(item))
	if err != nil {
		return detailTableModel{}, fmt.Errorf("encode detail match_id=%s: %w", item.MatchID, err)
	}
	row := detailTableModel{
		MatchID:     item.MatchID,
		Status:      string(item.Status),
		Family:      string(item.Family),
		FetchedAtMs: toMillis(item.FetchedAt),
		TotalRounds: item.TotalRounds,
		Endpoint:    item.Endpoint,
		Error:       item.Error,
		Record:      record,
	}
	if len(item.Raw) > 0 {
		row.RawPayload = sql.NullString{String: string(item.Raw), Valid: true}
	}
	return row, nil
}

func (row detailTableModel) toDomain() (detail.GameDetail, error) {
	item := detail.GameDetail{
		MatchID:     row.MatchID,
		Status:      detail.Status(row.Status),
		FetchedAt:   fromMillis(row.FetchedAtMs),
		Endpoint:    row.Endpoint,
		Error:       row.Error,
		Family:      match.Family(row.Family),
		TotalRounds: row.TotalRounds,
	}
	if row.RawPayload.Valid {
		item.Raw = []byte(row.RawPayload.String)
	}

	var rec detailRecord
	if err := sonic.UnmarshalString(row.Record, &rec); err != nil {
		return detail.GameDetail{}, fmt.Errorf("decode detail match_id=%s: %w", row.MatchID, err)
	}
	rec.apply(&item)
	return item, nil
}

func newRoundTableModels(items []round.Round) ([]roundTableModel, error) {
	rows := make([]roundTableModel, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, item := range items {
		if item.MatchID == "" || item.RoundNumber <= 0 {
			return nil, fmt.Errorf("upsert round: match id and positive round number are required")
		}
		record, err := sonic.MarshalString(toRoundRecord(item))
		if err != nil {
			return nil, fmt.Errorf("encode round %s: %w", round.Key(item.MatchID, item.RoundNumber), err)
		}
		row := roundTableModel{MatchID: item.MatchID, RoundNumber: item.RoundNumber, Record: record}

		key := round.Key(item.MatchID, item.RoundNumber)
		if idx, dup := seen[key]; dup {
			rows[idx] = row
			continue
		}
		seen[key] = len(rows)
		rows = append(rows, row)
	}
	return rows, nil
}

func chunkStrings(values []string) [][]string {
	if len(values) == 0 {
		return nil
	}
	out := make([][]string, 0, (len(values)+batchSize-1)/batchSize)
	for start := 0; start < len(values); start += batchSize {
		end := min(start+batchSize, len(values))
		out = append(out, values[start:end])
	}
	return out
}
