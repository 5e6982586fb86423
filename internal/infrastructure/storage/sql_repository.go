package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/ports"
)

// Dialect selects the placeholder format and driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Fixed width keeps lexical and chronological order identical.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const insightColumns = "id, type, source_id, title, body, urgency, urgency_score, confidence, actionable, " +
	"expires_at, generated_at, state, delivery_channel, delivered_at, session_id, schema_version"

const feedbackColumns = "id, insight_id, insight_type, source_id, urgency_at_delivery, delivered_at, channel, " +
	"acted_on, action_type, latency_ms, session_id, created_at"

// SQLRepository persists insights, feedback, action rates and atoms.
type SQLRepository struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

var (
	_ ports.InsightRepository = (*SQLRepository)(nil)
	_ ports.KnowledgeStore    = (*SQLRepository)(nil)
)

// NewSQLRepository wires an open sql.DB for the given dialect.
func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if dialect == DialectPostgres {
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return &SQLRepository{db: db, sb: sb, now: time.Now}
}

// OpenSQLite opens (creating if needed) a sqlite database file and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return openAndMigrate(ctx, db, DialectSQLite)
}

// OpenPostgres connects via lib/pq and migrates.
func OpenPostgres(ctx context.Context, dsn string) (*SQLRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return openAndMigrate(ctx, db, DialectPostgres)
}

func openAndMigrate(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLRepository, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	repo := NewSQLRepository(db, dialect)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// WithClock overrides the updated_at source.
func (r *SQLRepository) WithClock(now func() time.Time) *SQLRepository {
	r.now = now
	return r
}

// Migrate creates tables and indexes idempotently.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (r *SQLRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLRepository) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.db.ExecContext(ctx, query, args...)
}

func (r *SQLRepository) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.db.QueryContext(ctx, query, args...)
}

// SaveInsight upserts the full insight record.
func (r *SQLRepository) SaveInsight(ctx context.Context, insight domain.Insight) error {
	now := formatTime(r.now())
	version := insight.SchemaVersion
	if version == 0 {
		version = domain.SchemaVersion
	}
	q := r.sb.Insert("insights").
		Columns("id", "type", "source_id", "title", "body", "urgency", "urgency_score", "confidence",
			"actionable", "expires_at", "generated_at", "state", "delivery_channel", "delivered_at",
			"session_id", "schema_version", "created_at", "updated_at").
		Values(insight.ID, string(insight.Type), insight.SourceID, insight.Title, insight.Body,
			string(insight.Urgency), insight.UrgencyScore, insight.Confidence, boolInt(insight.Actionable),
			nullTime(insight.ExpiresAt), formatTime(insight.GeneratedAt), string(insight.State),
			nullString(string(insight.DeliveryChannel)), nullTime(insight.DeliveredAt),
			insight.SessionID, version, now, now).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			urgency = excluded.urgency,
			urgency_score = excluded.urgency_score,
			state = excluded.state,
			delivery_channel = excluded.delivery_channel,
			delivered_at = excluded.delivered_at,
			updated_at = excluded.updated_at`)
	if _, err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("save insight: %w", err)
	}
	return nil
}

// UpdateInsightState changes the lifecycle state and optional delivery columns.
// A row already in a terminal state is left untouched and domain.ErrTerminalState
// is returned; an unknown id is not an error.
func (r *SQLRepository) UpdateInsightState(ctx context.Context, id string, state domain.State, update ports.StateUpdate) error {
	q := r.sb.Update("insights").
		Set("state", string(state)).
		Set("updated_at", formatTime(r.now())).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"state": terminalStates()})
	if update.Channel != "" {
		q = q.Set("delivery_channel", string(update.Channel))
	}
	if update.DeliveredAt != nil {
		q = q.Set("delivered_at", formatTime(*update.DeliveredAt))
	}
	res, err := r.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("update insight state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update insight state rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	query, args, err := r.sb.Select("state").From("insights").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	var current string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read insight state: %w", err)
	}
	return fmt.Errorf("update %s to %s: %w", id, state, domain.ErrTerminalState)
}

func terminalStates() []string {
	states := domain.TerminalStates()
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// GetQueuedInsights returns scored and queued insights, highest score first.
func (r *SQLRepository) GetQueuedInsights(ctx context.Context) ([]domain.Insight, error) {
	q := r.sb.Select(insightColumns).From("insights").
		Where(sq.Eq{"state": []string{string(domain.StateQueued), string(domain.StateScored)}}).
		OrderBy("urgency_score DESC")
	return r.selectInsights(ctx, q)
}

// GetRecentDelivered returns delivered insights, most recent first.
func (r *SQLRepository) GetRecentDelivered(ctx context.Context, limit int) ([]domain.Insight, error) {
	if limit <= 0 {
		limit = 10
	}
	q := r.sb.Select(insightColumns).From("insights").
		Where(sq.Eq{"state": string(domain.StateDelivered)}).
		OrderBy("delivered_at DESC").
		Limit(uint64(limit))
	return r.selectInsights(ctx, q)
}

// ExpireStaleInsights moves non-terminal insights past their expiry to expired.
func (r *SQLRepository) ExpireStaleInsights(ctx context.Context, now time.Time) (int, error) {
	stamp := formatTime(now)
	q := r.sb.Update("insights").
		Set("state", string(domain.StateExpired)).
		Set("updated_at", stamp).
		Where(sq.NotEq{"expires_at": nil}).
		Where(sq.LtOrEq{"expires_at": stamp}).
		Where(sq.NotEq{"state": terminalStates()})
	res, err := r.exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("expire insights: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire insights rows: %w", err)
	}
	return int(n), nil
}

// SaveFeedback inserts a feedback record.
func (r *SQLRepository) SaveFeedback(ctx context.Context, fb domain.InsightFeedback) error {
	var latency any
	if fb.LatencyMs != nil {
		latency = *fb.LatencyMs
	}
	q := r.sb.Insert("insight_feedback").
		Columns("id", "insight_id", "insight_type", "source_id", "urgency_at_delivery", "delivered_at",
			"channel", "acted_on", "action_type", "latency_ms", "session_id", "created_at").
		Values(fb.ID, fb.InsightID, string(fb.InsightType), fb.SourceID, string(fb.UrgencyAtDelivery),
			formatTime(fb.DeliveredAt), string(fb.Channel), boolInt(fb.ActedOn), string(fb.ActionType),
			latency, fb.SessionID, formatTime(fb.CreatedAt))
	if _, err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// GetFeedbackHistory returns feedback for a pair newer than now-window.
func (r *SQLRepository) GetFeedbackHistory(ctx context.Context, sourceID string, insightType domain.InsightType, actedOn bool, window time.Duration) ([]domain.InsightFeedback, error) {
	cutoff := formatTime(r.now().Add(-window))
	q := r.sb.Select(feedbackColumns).From("insight_feedback").
		Where(sq.Eq{"source_id": sourceID, "insight_type": string(insightType), "acted_on": boolInt(actedOn)}).
		Where(sq.Gt{"created_at": cutoff}).
		OrderBy("created_at DESC")

	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []domain.InsightFeedback
	for rows.Next() {
		var (
			fb                               domain.InsightFeedback
			insightTypeS, urgency, channel   string
			actionType, deliveredAt, created string
			acted                            int
			latency                          sql.NullInt64
		)
		if err := rows.Scan(&fb.ID, &fb.InsightID, &insightTypeS, &fb.SourceID, &urgency, &deliveredAt,
			&channel, &acted, &actionType, &latency, &fb.SessionID, &created); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		fb.InsightType = domain.InsightType(insightTypeS)
		fb.UrgencyAtDelivery = domain.Urgency(urgency)
		fb.Channel = domain.Channel(channel)
		fb.ActedOn = acted != 0
		fb.ActionType = domain.ActionType(actionType)
		if latency.Valid {
			v := latency.Int64
			fb.LatencyMs = &v
		}
		fb.DeliveredAt = parseTime(deliveredAt)
		fb.CreatedAt = parseTime(created)
		out = append(out, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// GetActionRate returns the stored rate or the 0.5 prior when no row exists.
func (r *SQLRepository) GetActionRate(ctx context.Context, sourceID string, insightType domain.InsightType) (domain.ActionRate, error) {
	q := r.sb.Select("action_rate", "observation_count", "low_value", "last_updated").
		From("predict_action_rates").
		Where(sq.Eq{"source_id": sourceID, "insight_type": string(insightType)})
	query, args, err := q.ToSql()
	if err != nil {
		return domain.ActionRate{}, fmt.Errorf("build query: %w", err)
	}

	rate := domain.ActionRate{SourceID: sourceID, InsightType: insightType}
	var (
		lowValue int
		updated  string
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&rate.Rate, &rate.ObservationCount, &lowValue, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewActionRate(sourceID, insightType, r.now()), nil
	}
	if err != nil {
		return domain.ActionRate{}, fmt.Errorf("get action rate: %w", err)
	}
	rate.LowValue = lowValue != 0
	rate.LastUpdated = parseTime(updated)
	return rate, nil
}

// UpsertActionRate writes the pair's aggregate.
func (r *SQLRepository) UpsertActionRate(ctx context.Context, rate domain.ActionRate) error {
	updated := rate.LastUpdated
	if updated.IsZero() {
		updated = r.now()
	}
	q := r.sb.Insert("predict_action_rates").
		Columns("id", "source_id", "insight_type", "action_rate", "observation_count", "low_value", "last_updated").
		Values(rate.Key(), rate.SourceID, string(rate.InsightType), rate.Rate, rate.ObservationCount,
			boolInt(rate.LowValue), formatTime(updated)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			action_rate = excluded.action_rate,
			observation_count = excluded.observation_count,
			low_value = excluded.low_value,
			last_updated = excluded.last_updated`)
	if _, err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("upsert action rate: %w", err)
	}
	return nil
}

func (r *SQLRepository) selectInsights(ctx context.Context, q sq.SelectBuilder) ([]domain.Insight, error) {
	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	defer rows.Close()

	var out []domain.Insight
	for rows.Next() {
		insight, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, insight)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func scanInsight(rows *sql.Rows) (domain.Insight, error) {
	var (
		insight                          domain.Insight
		typ, urgency, state, generatedAt string
		actionable                       int
		expiresAt, channel, deliveredAt  sql.NullString
		version                          sql.NullInt64
	)
	if err := rows.Scan(&insight.ID, &typ, &insight.SourceID, &insight.Title, &insight.Body, &urgency,
		&insight.UrgencyScore, &insight.Confidence, &actionable, &expiresAt, &generatedAt, &state,
		&channel, &deliveredAt, &insight.SessionID, &version); err != nil {
		return domain.Insight{}, fmt.Errorf("scan insight: %w", err)
	}
	insight.Type = domain.InsightType(typ)
	insight.Urgency = domain.Urgency(urgency)
	insight.State = domain.State(state)
	insight.Actionable = actionable != 0
	insight.GeneratedAt = parseTime(generatedAt)
	insight.ExpiresAt = parseNullTime(expiresAt)
	insight.DeliveredAt = parseNullTime(deliveredAt)
	if channel.Valid {
		insight.DeliveryChannel = domain.Channel(channel.String)
	}
	insight.SchemaVersion = domain.SchemaVersion
	if version.Valid {
		insight.SchemaVersion = int(version.Int64)
	}
	return insight, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
