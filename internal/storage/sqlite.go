package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aragora/aragora/internal/apperr"
	"github.com/aragora/aragora/internal/domain"
	"github.com/aragora/aragora/internal/logging"
	"github.com/aragora/aragora/internal/types"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteAdapter is the sqlite-backed Storage Adapter. WAL mode and pragmas
// are lifted from internal/tools/rag_storage.go's NewRAGStorage.
type SQLiteAdapter struct {
	db *sql.DB
	mu sync.Mutex // serializes event-sequence and rating writes
}

var _ Adapter = (*SQLiteAdapter)(nil)

// Open creates (or opens) the sqlite database at path and runs every pending
// migration for all three schemas.
func Open(path string) (*SQLiteAdapter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_synchronous=NORMAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %v", p, err)
		}
	}

	adapter := &SQLiteAdapter{db: db}
	if err := adapter.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return adapter, nil
}

// Migrate implements Adapter.
func (a *SQLiteAdapter) Migrate(ctx context.Context) error {
	return newMigrationManager(a.db).migrateAll()
}

// SchemaVersion implements Adapter.
func (a *SQLiteAdapter) SchemaVersion(ctx context.Context, module string) (int, error) {
	return newMigrationManager(a.db).currentVersion(module)
}

// Close implements Adapter.
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

// --- Events ---

// AppendEvent implements events.Store and Adapter. The sqlite AUTOINCREMENT
// rowid gives the monotone per-debate-agnostic sequence number required by
// append_event; subscribers order by it.
func (a *SQLiteAdapter) AppendEvent(ctx context.Context, e *domain.Event) error {
	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return apperr.Wrap(apperr.KindIntegrity, "event_marshal_failed", "failed to marshal event data", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.db.ExecContext(ctx, `
		INSERT INTO events (type, timestamp, debate_id, round, agent, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Type), e.Timestamp, nullableString(e.DebateID), e.Round, nullableString(e.Agent), string(dataJSON),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindIntegrity, "event_append_failed", "failed to append event", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return apperr.Wrap(apperr.KindIntegrity, "event_append_failed", "failed to read event sequence", err)
	}
	e.Seq = uint64(seq)
	return nil
}

// ReadRecentEvents implements Adapter.
func (a *SQLiteAdapter) ReadRecentEvents(ctx context.Context, debateID string, limit int) ([]domain.Event, error) {
	limit = boundLimit(limit)
	rows, err := a.db.QueryContext(ctx, `
		SELECT seq, type, timestamp, debate_id, round, agent, data FROM (
			SELECT seq, type, timestamp, debate_id, round, agent, data
			FROM events WHERE debate_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, debateID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIntegrity, "read_events_failed", "failed to read events", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var debateIDv, agentv sql.NullString
		var roundv sql.NullInt64
		var dataJSON string
		if err := rows.Scan(&e.Seq, &e.Type, &e.Timestamp, &debateIDv, &roundv, &agentv, &dataJSON); err != nil {
			return nil, apperr.Wrap(apperr.KindIntegrity, "scan_event_failed", "failed to scan event", err)
		}
		e.DebateID = debateIDv.String
		e.Agent = agentv.String
		e.Round = int(roundv.Int64)
		_ = json.Unmarshal([]byte(dataJSON), &e.Data)
		out = append(out, e)
	}
	return out, nil
}

// --- Debates ---

// CreateDebate implements DebateStore.
func (a *SQLiteAdapter) CreateDebate(ctx context.Context, d *domain.Debate) error {
	agentsJSON, err := json.Marshal(d.Agents)
	if err != nil {
		return apperr.Wrap(apperr.KindIntegrity, "marshal_agents_failed", "failed to marshal agent list", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO debates (debate_id, slug, task, agents, rounds_planned, rounds_used, consensus_reached, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		d.DebateID, d.Slug, d.Task, string(agentsJSON), d.RoundsPlanned, nullableString(d.CreatedBy), d.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return &ErrDuplicateSlug{Slug: d.Slug}
		}
		return apperr.Wrap(apperr.KindIntegrity, "create_debate_failed", "failed to create debate", err)
	}
	logging.LogDatabaseEvent("insert", "debates", map[string]interface{}{"debate_id": d.DebateID})
	return nil
}

// AppendMessage implements DebateStore.
func (a *SQLiteAdapter) AppendMessage(ctx context.Context, m *domain.DebateMessage) (int64, error) {
	citationsJSON, _ := json.Marshal(m.Citations)

	res, err := a.db.ExecContext(ctx, `
		INSERT INTO debate_messages (debate_id, round, agent, role, phase, cognitive_role, content, confidence, citations, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.DebateID, m.Round, m.Agent, m.Role, string(m.Phase), m.CognitiveRole, m.Content, nullableFloat(m.Confidence), string(citationsJSON), m.Timestamp,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, apperr.Wrap(apperr.KindIntegrity, "duplicate_message", "duplicate (debate_id, round, agent, role)", err)
		}
		return 0, apperr.Wrap(apperr.KindIntegrity, "append_message_failed", "failed to append message", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIntegrity, "append_message_failed", "failed to read message sequence", err)
	}
	_, err = a.db.ExecContext(ctx, `UPDATE debates SET rounds_used = MAX(rounds_used, ?) WHERE debate_id = ?`, m.Round, m.DebateID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIntegrity, "update_rounds_used_failed", "failed to update rounds_used", err)
	}
	return seq, nil
}

// SealDebate implements DebateStore. Idempotent: sealing twice with the
// same artifact is a no-op, sealing with a different artifact fails.
func (a *SQLiteAdapter) SealDebate(ctx context.Context, debateID string, final *domain.FinalArtifact, outcome string, confidence *float64) error {
	var finalJSON []byte
	var err error
	if final != nil {
		finalJSON, err = json.Marshal(final)
		if err != nil {
			return apperr.Wrap(apperr.KindIntegrity, "marshal_artifact_failed", "failed to marshal final artifact", err)
		}
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindIntegrity, "seal_begin_failed", "failed to begin seal transaction", err)
	}
	defer tx.Rollback()

	var existingArtifact sql.NullString
	var sealedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT final_artifact, sealed_at FROM debates WHERE debate_id = ?`, debateID).Scan(&existingArtifact, &sealedAt)
	if err == sql.ErrNoRows {
		return apperr.New(apperr.KindInput, "unknown_debate", "no such debate: "+debateID)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindIntegrity, "seal_lookup_failed", "failed to look up debate", err)
	}

	if sealedAt.Valid {
		if existingArtifact.String == string(finalJSON) {
			return nil // idempotent no-op
		}
		return &ErrSealConflict{DebateID: debateID}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE debates SET final_artifact = ?, outcome = ?, confidence = ?, consensus_reached = ?, sealed_at = ?
		WHERE debate_id = ?`,
		string(finalJSON), outcome, nullableFloat(confidence), outcome == string(types.OutcomeConsensus), nowFunc(), debateID,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindIntegrity, "seal_update_failed", "failed to seal debate", err)
	}
	return tx.Commit()
}

// GetDebate implements DebateStore.
func (a *SQLiteAdapter) GetDebate(ctx context.Context, slugOrID string) (*domain.Debate, []domain.DebateMessage, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT debate_id, slug, task, agents, rounds_planned, rounds_used, consensus_reached,
		       confidence, final_artifact, outcome, created_by, created_at, sealed_at
		FROM debates WHERE debate_id = ? OR slug = ?`, slugOrID, slugOrID)

	d, err := scanDebate(row)
	if err != nil {
		return nil, nil, err
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT debate_id, round, agent, role, phase, cognitive_role, content, confidence, citations, timestamp
		FROM debate_messages WHERE debate_id = ? ORDER BY sequence ASC`, d.DebateID)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindIntegrity, "read_messages_failed", "failed to read messages", err)
	}
	defer rows.Close()

	var messages []domain.DebateMessage
	for rows.Next() {
		var m domain.DebateMessage
		var citationsJSON string
		var confidence sql.NullFloat64
		if err := rows.Scan(&m.DebateID, &m.Round, &m.Agent, &m.Role, &m.Phase, &m.CognitiveRole, &m.Content, &confidence, &citationsJSON, &m.Timestamp); err != nil {
			return nil, nil, apperr.Wrap(apperr.KindIntegrity, "scan_message_failed", "failed to scan message", err)
		}
		if confidence.Valid {
			v := confidence.Float64
			m.Confidence = &v
		}
		_ = json.Unmarshal([]byte(citationsJSON), &m.Citations)
		messages = append(messages, m)
	}
	return d, messages, nil
}

// ListDebates implements DebateStore with an opaque cursor that encodes the
// last seen created_at unix-nano timestamp.
func (a *SQLiteAdapter) ListDebates(ctx context.Context, limit int, cursor string) ([]domain.Debate, string, error) {
	limit = boundLimit(limit)
	var before time.Time
	if cursor != "" {
		ns, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", apperr.Wrap(apperr.KindInput, "bad_cursor", "invalid cursor", err)
		}
		before = time.Unix(0, ns)
	} else {
		before = time.Now().Add(time.Hour) // effectively "no filter"
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT debate_id, slug, task, agents, rounds_planned, rounds_used, consensus_reached,
		       confidence, final_artifact, outcome, created_by, created_at, sealed_at
		FROM debates WHERE created_at < ? ORDER BY created_at DESC LIMIT ?`, before, limit)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindIntegrity, "list_debates_failed", "failed to list debates", err)
	}
	defer rows.Close()

	var out []domain.Debate
	for rows.Next() {
		d, err := scanDebateRows(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *d)
	}

	nextCursor := ""
	if len(out) == limit {
		nextCursor = encodeCursor(out[len(out)-1].CreatedAt.UnixNano())
	}
	return out, nextCursor, nil
}

// ListActiveDebates implements DebateStore, grounded on
// internal/server/debate_manager.go's LoadActiveDebates rehydration pattern.
func (a *SQLiteAdapter) ListActiveDebates(ctx context.Context) ([]domain.Debate, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT debate_id, slug, task, agents, rounds_planned, rounds_used, consensus_reached,
		       confidence, final_artifact, outcome, created_by, created_at, sealed_at
		FROM debates WHERE sealed_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIntegrity, "list_active_failed", "failed to list active debates", err)
	}
	defer rows.Close()

	var out []domain.Debate
	for rows.Next() {
		d, err := scanDebateRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func scanDebate(row *sql.Row) (*domain.Debate, error) {
	var d domain.Debate
	var agentsJSON string
	var confidence sql.NullFloat64
	var finalJSON sql.NullString
	var outcome sql.NullString
	var createdBy sql.NullString
	var sealedAt sql.NullTime

	err := row.Scan(&d.DebateID, &d.Slug, &d.Task, &agentsJSON, &d.RoundsPlanned, &d.RoundsUsed, &d.ConsensusReached,
		&confidence, &finalJSON, &outcome, &createdBy, &d.CreatedAt, &sealedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindInput, "unknown_debate", "no such debate")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIntegrity, "scan_debate_failed", "failed to scan debate", err)
	}
	return fillDebate(&d, agentsJSON, confidence, finalJSON, outcome, createdBy, sealedAt)
}

func scanDebateRows(rows *sql.Rows) (*domain.Debate, error) {
	var d domain.Debate
	var agentsJSON string
	var confidence sql.NullFloat64
	var finalJSON sql.NullString
	var outcome sql.NullString
	var createdBy sql.NullString
	var sealedAt sql.NullTime

	if err := rows.Scan(&d.DebateID, &d.Slug, &d.Task, &agentsJSON, &d.RoundsPlanned, &d.RoundsUsed, &d.ConsensusReached,
		&confidence, &finalJSON, &outcome, &createdBy, &d.CreatedAt, &sealedAt); err != nil {
		return nil, apperr.Wrap(apperr.KindIntegrity, "scan_debate_failed", "failed to scan debate", err)
	}
	return fillDebate(&d, agentsJSON, confidence, finalJSON, outcome, createdBy, sealedAt)
}

func fillDebate(d *domain.Debate, agentsJSON string, confidence sql.NullFloat64, finalJSON, outcome, createdBy sql.NullString, sealedAt sql.NullTime) (*domain.Debate, error) {
	_ = json.Unmarshal([]byte(agentsJSON), &d.Agents)
	if confidence.Valid {
		v := confidence.Float64
		d.Confidence = &v
	}
	if finalJSON.Valid && finalJSON.String != "" {
		var fa domain.FinalArtifact
		if err := json.Unmarshal([]byte(finalJSON.String), &fa); err == nil {
			d.FinalArtifact = &fa
		}
	}
	d.Outcome = types.Outcome(outcome.String)
	d.CreatedBy = createdBy.String
	if sealedAt.Valid {
		t := sealedAt.Time
		d.SealedAt = &t
	}
	return d, nil
}

// --- Ranking ---

// RecordMatch implements RatingWriter. The Match and every participant's
// AgentRating are written atomically in one transaction.
func (a *SQLiteAdapter) RecordMatch(ctx context.Context, m *domain.Match, updated []domain.AgentRating) error {
	participantsJSON, _ := json.Marshal(m.Participants)
	eloChangesJSON, _ := json.Marshal(m.EloChanges)

	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindIntegrity, "match_begin_failed", "failed to begin match transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO matches (debate_id, participants, winner, elo_changes, domain, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.DebateID, string(participantsJSON), nullableString(m.Winner), string(eloChangesJSON), m.Domain, m.RecordedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindIntegrity, "record_match_failed", "failed to record match", err)
	}

	for _, r := range updated {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO agent_ratings (agent, domain, elo, wins, losses, draws, consistency)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(agent, domain) DO UPDATE SET
				elo = excluded.elo, wins = excluded.wins, losses = excluded.losses,
				draws = excluded.draws, consistency = excluded.consistency`,
			r.Agent, r.Domain, r.Elo, r.Wins, r.Losses, r.Draws, r.Consistency,
		)
		if err != nil {
			return apperr.Wrap(apperr.KindIntegrity, "update_rating_failed", "failed to update rating for "+r.Agent, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindIntegrity, "match_commit_failed", "failed to commit match transaction", err)
	}
	logging.LogRankingEvent("match_recorded", m.DebateID, map[string]interface{}{"participants": m.Participants})
	return nil
}

// GetRating implements RatingWriter.
func (a *SQLiteAdapter) GetRating(ctx context.Context, agent, domainTag string) (domain.AgentRating, error) {
	var r domain.AgentRating
	r.Agent = agent
	r.Domain = domainTag
	err := a.db.QueryRowContext(ctx, `
		SELECT elo, wins, losses, draws, consistency FROM agent_ratings WHERE agent = ? AND domain = ?`,
		agent, domainTag).Scan(&r.Elo, &r.Wins, &r.Losses, &r.Draws, &r.Consistency)
	if err == sql.ErrNoRows {
		r.Elo = 1000
		r.Consistency = 1.0
		return r, nil
	}
	if err != nil {
		return domain.AgentRating{}, apperr.Wrap(apperr.KindIntegrity, "get_rating_failed", "failed to read rating", err)
	}
	return r, nil
}

// Leaderboard implements RatingWriter.
func (a *SQLiteAdapter) Leaderboard(ctx context.Context, domainTag string, limit int) ([]domain.AgentRating, error) {
	limit = boundLimit(limit)
	query := `SELECT agent, domain, elo, wins, losses, draws, consistency FROM agent_ratings`
	args := []interface{}{}
	if domainTag != "" {
		query += ` WHERE domain = ?`
		args = append(args, domainTag)
	}
	query += ` ORDER BY elo DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIntegrity, "leaderboard_failed", "failed to read leaderboard", err)
	}
	defer rows.Close()

	var out []domain.AgentRating
	for rows.Next() {
		var r domain.AgentRating
		if err := rows.Scan(&r.Agent, &r.Domain, &r.Elo, &r.Wins, &r.Losses, &r.Draws, &r.Consistency); err != nil {
			return nil, apperr.Wrap(apperr.KindIntegrity, "scan_rating_failed", "failed to scan rating", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// RecentMatches implements RatingWriter.
func (a *SQLiteAdapter) RecentMatches(ctx context.Context, limit int) ([]domain.Match, error) {
	limit = boundLimit(limit)
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, debate_id, participants, winner, elo_changes, domain, recorded_at
		FROM matches ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIntegrity, "recent_matches_failed", "failed to read matches", err)
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		var m domain.Match
		var participantsJSON, eloChangesJSON string
		var winner sql.NullString
		if err := rows.Scan(&m.ID, &m.DebateID, &participantsJSON, &winner, &eloChangesJSON, &m.Domain, &m.RecordedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindIntegrity, "scan_match_failed", "failed to scan match", err)
		}
		_ = json.Unmarshal([]byte(participantsJSON), &m.Participants)
		_ = json.Unmarshal([]byte(eloChangesJSON), &m.EloChanges)
		m.Winner = winner.String
		out = append(out, m)
	}
	return out, nil
}

// --- Positions & Flips ---

// SavePosition implements PositionStore.
func (a *SQLiteAdapter) SavePosition(ctx context.Context, p *domain.Position) (int64, error) {
	embeddingJSON, err := json.Marshal(p.Embedding)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIntegrity, "marshal_embedding_failed", "failed to marshal embedding", err)
	}

	res, err := a.db.ExecContext(ctx, `
		INSERT INTO positions (agent, claim, confidence, domain, debate_id, round, source_message_seq, outcome, embedding, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Agent, p.Claim, p.Confidence, p.Domain, p.DebateID, p.Round, p.SourceMessageSeq, string(p.Outcome), embeddingJSON, p.Timestamp,
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIntegrity, "save_position_failed", "failed to save position", err)
	}
	return res.LastInsertId()
}

// RecentPositions implements PositionStore, bounding the scan to the last
// `limit` positions for the agent. A non-empty domainTag restricts the scan
// to that domain, with no fallback to other domains; an empty one scans all.
func (a *SQLiteAdapter) RecentPositions(ctx context.Context, agent, domainTag string, limit int) ([]domain.Position, error) {
	limit = boundLimit(limit)
	query := `SELECT id, agent, claim, confidence, domain, debate_id, round, source_message_seq, outcome, embedding, timestamp
		FROM positions WHERE agent = ?`
	args := []interface{}{agent}
	if domainTag != "" {
		query += ` AND domain = ?`
		args = append(args, domainTag)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIntegrity, "recent_positions_failed", "failed to read positions", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var embeddingJSON string
		var outcome string
		if err := rows.Scan(&p.ID, &p.Agent, &p.Claim, &p.Confidence, &p.Domain, &p.DebateID, &p.Round, &p.SourceMessageSeq, &outcome, &embeddingJSON, &p.Timestamp); err != nil {
			return nil, apperr.Wrap(apperr.KindIntegrity, "scan_position_failed", "failed to scan position", err)
		}
		p.Outcome = types.PositionOutcome(outcome)
		_ = json.Unmarshal([]byte(embeddingJSON), &p.Embedding)
		out = append(out, p)
	}
	return out, nil
}

// SaveFlip implements PositionStore.
func (a *SQLiteAdapter) SaveFlip(ctx context.Context, f *domain.Flip) (int64, error) {
	res, err := a.db.ExecContext(ctx, `
		INSERT INTO flips (agent, original_id, new_id, similarity, type, domain, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.Agent, f.OriginalID, f.NewID, f.Similarity, string(f.Type), f.Domain, f.DetectedAt,
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIntegrity, "save_flip_failed", "failed to save flip", err)
	}
	return res.LastInsertId()
}

// RecentFlips implements PositionStore.
func (a *SQLiteAdapter) RecentFlips(ctx context.Context, limit int) ([]domain.Flip, error) {
	limit = boundLimit(limit)
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, agent, original_id, new_id, similarity, type, domain, detected_at
		FROM flips ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIntegrity, "recent_flips_failed", "failed to read flips", err)
	}
	defer rows.Close()

	var out []domain.Flip
	for rows.Next() {
		var f domain.Flip
		var ftype string
		if err := rows.Scan(&f.ID, &f.Agent, &f.OriginalID, &f.NewID, &f.Similarity, &ftype, &f.Domain, &f.DetectedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindIntegrity, "scan_flip_failed", "failed to scan flip", err)
		}
		f.Type = types.FlipType(ftype)
		out = append(out, f)
	}
	return out, nil
}

// ConsistencyCounts implements PositionStore: number of contradiction and
// retraction flips for the agent, plus total positions, feeding
// consistency(agent) = 1 - (contradictions+retractions)/max(1,total).
func (a *SQLiteAdapter) ConsistencyCounts(ctx context.Context, agent string) (contradictions, retractions, total int, err error) {
	err = a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions WHERE agent = ?`, agent).Scan(&total)
	if err != nil {
		return 0, 0, 0, apperr.Wrap(apperr.KindIntegrity, "count_positions_failed", "failed to count positions", err)
	}
	err = a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flips WHERE agent = ? AND type = ?`, agent, string(types.FlipContradiction)).Scan(&contradictions)
	if err != nil {
		return 0, 0, 0, apperr.Wrap(apperr.KindIntegrity, "count_contradictions_failed", "failed to count contradictions", err)
	}
	err = a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flips WHERE agent = ? AND type = ?`, agent, string(types.FlipRetraction)).Scan(&retractions)
	if err != nil {
		return 0, 0, 0, apperr.Wrap(apperr.KindIntegrity, "count_retractions_failed", "failed to count retractions", err)
	}
	return contradictions, retractions, total, nil
}

// --- helpers ---

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func boundLimit(limit int) int {
	const defaultLimit = 20
	const maxLimit = 200
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func encodeCursor(unixNano int64) string {
	return strconv.FormatInt(unixNano, 36)
}

func decodeCursor(cursor string) (int64, error) {
	return strconv.ParseInt(cursor, 36, 64)
}
