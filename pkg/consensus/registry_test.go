package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compute_consensus/pkg/config"
	"compute_consensus/pkg/data"
)

func TestRegistry_Register(t *testing.T) {
	e := newTestEngine(t, nil)

	t.Run("AdmitsAtMinimumStake", func(t *testing.T) {
		res, err := e.HandleRegister(&data.RegisterRequest{
			ValidatorID:     "v1",
			PublicKey:       []byte("pk"),
			Stake:           1000,
			ComputeCapacity: 4,
			Metadata:        map[string]string{},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Index)
		assert.False(t, res.NextEpochBoundary.IsZero())
	})

	t.Run("RejectsDuplicate", func(t *testing.T) {
		_, err := e.HandleRegister(&data.RegisterRequest{
			ValidatorID:     "v1",
			PublicKey:       []byte("pk"),
			Stake:           5000,
			ComputeCapacity: 4,
			Metadata:        map[string]string{},
		})
		assert.ErrorIs(t, err, ErrDuplicateValidator)
		assert.ErrorIs(t, err, ErrPolicyViolation)
	})

	t.Run("RejectsBelowMinimumStake", func(t *testing.T) {
		_, err := e.HandleRegister(&data.RegisterRequest{
			ValidatorID:     "v2",
			PublicKey:       []byte("pk"),
			Stake:           999,
			ComputeCapacity: 4,
			Metadata:        map[string]string{},
		})
		assert.ErrorIs(t, err, ErrInsufficientStake)
	})
}

func TestRegistry_RejectsInvalidRecordFields(t *testing.T) {
	e := newTestEngine(t, nil)

	// Field-level record rejections surface as invalid input
	_, err := e.Registry().Register("", []byte("pk"), 2000, 4, "", nil, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.Registry().Register("v1", nil, 2000, 4, "", nil, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegistry_StakeOf(t *testing.T) {
	e := newTestEngine(t, nil)
	registerValidator(t, e, "v1", 2000)

	stake, active, err := e.Registry().StakeOf("v1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), stake)
	assert.True(t, active)

	require.NoError(t, e.Registry().Deactivate("v1", "test"))
	_, active, err = e.Registry().StakeOf("v1")
	require.NoError(t, err)
	assert.False(t, active)

	_, _, err = e.Registry().StakeOf("ghost")
	assert.ErrorIs(t, err, ErrValidatorNotFound)
}

func TestRegistry_RegistryFull(t *testing.T) {
	e := newTestEngine(t, func(cfg *config.Config) { cfg.Consensus.MaxValidators = 1 })

	registerValidator(t, e, "v1", 2000)

	_, err := e.HandleRegister(&data.RegisterRequest{
		ValidatorID:     "v2",
		PublicKey:       []byte("pk"),
		Stake:           2000,
		ComputeCapacity: 4,
		Metadata:        map[string]string{},
	})
	assert.ErrorIs(t, err, ErrRegistryFull)
}

func TestRegistry_StakeAdjustments(t *testing.T) {
	e := newTestEngine(t, nil)
	registerValidator(t, e, "v1", 2000)

	t.Run("Increase", func(t *testing.T) {
		require.NoError(t, e.IncreaseStake("v1", 500))

		v, err := e.Registry().Get("v1")
		require.NoError(t, err)
		assert.Equal(t, uint64(2500), v.Stake)
	})

	t.Run("DecreaseWithinBounds", func(t *testing.T) {
		require.NoError(t, e.DecreaseStake("v1", 1000))

		v, err := e.Registry().Get("v1")
		require.NoError(t, err)
		assert.Equal(t, uint64(1500), v.Stake)
		assert.True(t, v.Active)
	})

	t.Run("DecreaseBelowMinimumRejected", func(t *testing.T) {
		err := e.DecreaseStake("v1", 501)
		assert.ErrorIs(t, err, ErrBelowMinimumStake)

		// Withdrawing more than the full stake is equally rejected
		err = e.DecreaseStake("v1", 10000)
		assert.ErrorIs(t, err, ErrBelowMinimumStake)
	})

	t.Run("ZeroAmountRejected", func(t *testing.T) {
		assert.ErrorIs(t, e.IncreaseStake("v1", 0), ErrInvalidAmount)
		assert.ErrorIs(t, e.DecreaseStake("v1", 0), ErrInvalidAmount)
	})

	t.Run("UnknownValidator", func(t *testing.T) {
		err := e.IncreaseStake("ghost", 100)
		assert.ErrorIs(t, err, ErrValidatorNotFound)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRegistry_Deactivation(t *testing.T) {
	e := newTestEngine(t, nil)
	registerValidator(t, e, "v1", 2000)
	registerValidator(t, e, "v2", 2000)

	require.NoError(t, e.Registry().Deactivate("v1", "operator request"))

	v, err := e.Registry().Get("v1")
	require.NoError(t, err)
	assert.False(t, v.Active)
	assert.NotNil(t, v.DeactivatedAt)
	assert.Equal(t, "operator request", v.DeactivationNote)

	// Idempotent
	require.NoError(t, e.Registry().Deactivate("v1", "again"))
	assert.Equal(t, "operator request", v.DeactivationNote)

	// The record survives deactivation and is excluded from the active set
	assert.Equal(t, 1, e.Registry().ActiveCount())
	assert.Equal(t, []string{"v2"}, e.Registry().ActiveIDs())
	assert.Equal(t, 2, e.Registry().Stats().Total)
}

func TestSlashing_DeactivatesUnderStakeFloor(t *testing.T) {
	e := newTestEngine(t, nil)
	registerValidator(t, e, "v1", 1000)

	rec, err := e.slashing.Slash("v1", "incorrect computation", "ch-1", 0.5)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), rec.SlashAmount)

	v, err := e.Registry().Get("v1")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), v.Stake)
	assert.InDelta(t, 0.9, v.Reputation, 0.0001)
	assert.False(t, v.Active, "stake under minimum must deactivate")
	assert.Len(t, v.SlashingHistory, 1)
}

func TestSlashing_DeactivatesUnderReputationFloor(t *testing.T) {
	e := newTestEngine(t, func(cfg *config.Config) { cfg.Consensus.MinStake = 1 })
	registerValidator(t, e, "v1", 1000000)

	// Severe decay: 1.0 -> 0.7 -> 0.49, under the floor on the second offense
	_, err := e.slashing.SlashSevere("v1", "double signing", "ev-1", 0.01)
	require.NoError(t, err)

	v, err := e.Registry().Get("v1")
	require.NoError(t, err)
	assert.True(t, v.Active)

	_, err = e.slashing.SlashSevere("v1", "double signing", "ev-2", 0.01)
	require.NoError(t, err)
	assert.False(t, v.Active)
}

func TestSlashing_Reward(t *testing.T) {
	e := newTestEngine(t, nil)
	registerValidator(t, e, "v1", 2000)

	require.NoError(t, e.slashing.Reward("v1", "challenge response", 50))

	v, err := e.Registry().Get("v1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2050), v.Stake)
	assert.InDelta(t, 1.01, v.Reputation, 0.0001)

	assert.ErrorIs(t, e.slashing.Reward("v1", "x", 0), ErrInvalidAmount)
	assert.ErrorIs(t, e.slashing.Reward("ghost", "x", 10), ErrValidatorNotFound)
}
