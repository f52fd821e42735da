package consensus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"compute_consensus/pkg/data"
)

// Archiver applies consensus events to the audit repository. Every event is
// persisted as-is, and events that change an entity also upsert the entity's
// current state, so validators, submissions, challenges, and blocks can be
// queried directly instead of replaying the event log.
type Archiver struct {
	engine *Engine
	repo   data.Repository
	logger *zap.Logger
}

// NewArchiver creates an archiver over the engine's audit repository
func NewArchiver(engine *Engine, repo data.Repository, logger *zap.Logger) *Archiver {
	return &Archiver{
		engine: engine,
		repo:   repo,
		logger: logger,
	}
}

// Apply persists an event and upserts the entities it touched. Idempotent:
// duplicate event ids are ignored by the store and the upserts rewrite
// current state.
func (a *Archiver) Apply(ctx context.Context, evt *data.Event) error {
	if err := a.repo.SaveEvent(ctx, evt); err != nil {
		return fmt.Errorf("saving event %s: %w", evt.ID, err)
	}

	switch evt.Type {
	case data.EventValidatorRegistered, data.EventValidatorDeactivated,
		data.EventStakeIncreased, data.EventStakeDecreased,
		data.EventValidatorSlashed, data.EventValidatorRewarded:
		return a.saveValidator(ctx, evt.ValidatorID)

	case data.EventWorkVerified:
		if err := a.saveSubmission(ctx, evt.SubmissionID); err != nil {
			return err
		}
		return a.saveValidator(ctx, evt.ValidatorID)

	case data.EventChallengeIssued, data.EventChallengeResolved:
		return a.saveChallenge(ctx, evt.ChallengeID)

	case data.EventBlockFinalized:
		return a.saveBlock(ctx, evt.Height)
	}

	return nil
}

func (a *Archiver) saveValidator(ctx context.Context, id string) error {
	v, err := a.engine.registry.Snapshot(id)
	if err != nil {
		return fmt.Errorf("snapshotting validator %s: %w", id, err)
	}
	if err := a.repo.SaveValidator(ctx, v); err != nil {
		return fmt.Errorf("saving validator %s: %w", id, err)
	}
	return nil
}

func (a *Archiver) saveSubmission(ctx context.Context, id string) error {
	sub, err := a.engine.verifier.Snapshot(id)
	if err != nil {
		return fmt.Errorf("snapshotting submission %s: %w", id, err)
	}
	if err := a.repo.SaveSubmission(ctx, sub); err != nil {
		return fmt.Errorf("saving submission %s: %w", id, err)
	}
	return nil
}

func (a *Archiver) saveChallenge(ctx context.Context, id string) error {
	ch, err := a.engine.challenges.Snapshot(id)
	if err != nil {
		return fmt.Errorf("snapshotting challenge %s: %w", id, err)
	}
	if err := a.repo.SaveChallenge(ctx, ch); err != nil {
		return fmt.Errorf("saving challenge %s: %w", id, err)
	}
	return nil
}

func (a *Archiver) saveBlock(ctx context.Context, height uint64) error {
	block, err := a.engine.producer.Block(height)
	if err != nil {
		return fmt.Errorf("fetching block %d: %w", height, err)
	}
	if err := a.repo.SaveBlock(ctx, block); err != nil {
		return fmt.Errorf("saving block %d: %w", height, err)
	}
	return nil
}
