package consensus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"compute_consensus/pkg/config"
	"compute_consensus/pkg/data"
)

// drainInto closes the engine's event channel and applies every buffered
// event to the archiver
func drainInto(t *testing.T, e *Engine, arch *Archiver) {
	t.Helper()

	e.Close()
	ctx := context.Background()
	for evt := range e.Events() {
		evt := evt
		require.NoError(t, arch.Apply(ctx, &evt))
	}
}

func TestArchiver_PersistsEntityState(t *testing.T) {
	e := newTestEngine(t, func(cfg *config.Config) {
		cfg.Consensus.ChallengeProbability = 1
	})
	repo := data.NewMockRepository()
	arch := NewArchiver(e, repo, zap.NewNop())
	ctx := context.Background()

	ids := registerQuorum(t, e, 3, 2500)

	res, err := e.HandleWork(workRequest("v1", "task-1", "in", "out", 4000))
	require.NoError(t, err)
	require.True(t, res.Challenged)

	block := finalizeBlock(t, e, ids)
	drainInto(t, e, arch)

	v1, err := repo.GetValidator(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, v1.Active)
	assert.Equal(t, uint64(2600), v1.Stake) // 2500 stake plus the producer reward

	sub, err := repo.GetSubmission(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.True(t, sub.Verified)
	assert.Equal(t, "v1", sub.ValidatorID)

	ch, err := repo.GetChallenge(ctx, res.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, "v1", ch.ChallengedID)
	assert.Equal(t, data.ChallengeStatusPending, ch.Status)

	stored, err := repo.GetBlock(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, block.Hash, stored.Hash)

	latest, err := repo.LatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), latest.Height)

	events, err := repo.ListEvents(ctx, data.EventFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestArchiver_EventWithoutEntity(t *testing.T) {
	e := newTestEngine(t, nil)
	repo := data.NewMockRepository()
	arch := NewArchiver(e, repo, zap.NewNop())
	ctx := context.Background()

	evt := data.NewEvent(data.EventEpochAdvanced)
	evt.Epoch = 1
	require.NoError(t, arch.Apply(ctx, &evt))

	out, err := repo.ListEvents(ctx, data.EventFilter{Type: data.EventEpochAdvanced})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestArchiver_UnknownEntityFails(t *testing.T) {
	e := newTestEngine(t, nil)
	repo := data.NewMockRepository()
	arch := NewArchiver(e, repo, zap.NewNop())

	evt := data.NewEvent(data.EventStakeIncreased)
	evt.ValidatorID = "ghost"
	err := arch.Apply(context.Background(), &evt)
	assert.ErrorIs(t, err, ErrValidatorNotFound)
}
