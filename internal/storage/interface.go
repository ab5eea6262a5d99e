// Package storage implements the Storage Adapter: a narrow interface over an
// embedded relational store providing append-only writes for debates,
// events, matches, and positions, bounded readers, and per-schema
// migrations. Grounded on internal/database/database.go (WAL pragmas lifted
// from internal/tools/rag_storage.go) and internal/database/migrations.go.
package storage

import (
	"context"
	"time"

	"github.com/aragora/aragora/internal/domain"
)

// DebateStore is the capability the Orchestrator needs: create, append,
// seal, and read back one debate's durable record.
type DebateStore interface {
	CreateDebate(ctx context.Context, d *domain.Debate) error
	AppendMessage(ctx context.Context, m *domain.DebateMessage) (int64, error)
	SealDebate(ctx context.Context, debateID string, final *domain.FinalArtifact, outcome string, confidence *float64) error
	GetDebate(ctx context.Context, slugOrID string) (*domain.Debate, []domain.DebateMessage, error)
	ListDebates(ctx context.Context, limit int, cursor string) ([]domain.Debate, string, error)
	ListActiveDebates(ctx context.Context) ([]domain.Debate, error)
}

// RatingWriter is the capability the Ranking & Flip Engine needs to persist
// a Match atomically with every participant's updated AgentRating.
type RatingWriter interface {
	RecordMatch(ctx context.Context, m *domain.Match, updated []domain.AgentRating) error
	GetRating(ctx context.Context, agent, domainTag string) (domain.AgentRating, error)
	Leaderboard(ctx context.Context, domainTag string, limit int) ([]domain.AgentRating, error)
	RecentMatches(ctx context.Context, limit int) ([]domain.Match, error)
}

// PositionStore is the capability the Ranking & Flip Engine needs to scan an
// agent's prior positions and persist new positions and flips.
type PositionStore interface {
	SavePosition(ctx context.Context, p *domain.Position) (int64, error)
	RecentPositions(ctx context.Context, agent, domainTag string, limit int) ([]domain.Position, error)
	SaveFlip(ctx context.Context, f *domain.Flip) (int64, error)
	RecentFlips(ctx context.Context, limit int) ([]domain.Flip, error)
	ConsistencyCounts(ctx context.Context, agent string) (contradictions, retractions, total int, err error)
}

// Adapter is the full Storage Adapter surface; it composes the narrower
// capability interfaces above plus the Event Bus's Store and schema
// migration control.
type Adapter interface {
	DebateStore
	RatingWriter
	PositionStore

	AppendEvent(ctx context.Context, e *domain.Event) error
	ReadRecentEvents(ctx context.Context, debateID string, limit int) ([]domain.Event, error)

	SchemaVersion(ctx context.Context, module string) (int, error)
	Migrate(ctx context.Context) error

	Close() error
}

// ErrDuplicateSlug is returned by CreateDebate when the slug already exists.
type ErrDuplicateSlug struct{ Slug string }

func (e *ErrDuplicateSlug) Error() string { return "duplicate debate slug: " + e.Slug }

// ErrSealConflict is returned by SealDebate when a different final artifact
// was already sealed for this debate.
type ErrSealConflict struct{ DebateID string }

func (e *ErrSealConflict) Error() string { return "seal conflict for debate: " + e.DebateID }

// nowFunc lets tests freeze time instead of reaching for time.Now() directly.
var nowFunc = time.Now
