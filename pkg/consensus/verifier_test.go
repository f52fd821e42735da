package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVerifier_SubmitWork(t *testing.T) {
	e := newTestEngine(t, nil)
	registerQuorum(t, e, 2, 2500)

	res, err := e.HandleWork(workRequest("v1", "task-1", "in", "out", 1000))
	require.NoError(t, err)

	assert.NotEmpty(t, res.SubmissionID)
	assert.False(t, res.Challenged)
	// Base score plus speed bonus: 100 + 50 * (1 - 1000/10000)
	assert.InDelta(t, 145.0, res.Score, 0.0001)

	sub, err := e.verifier.Submission(res.SubmissionID)
	require.NoError(t, err)
	assert.True(t, sub.Verified)

	// The score feeds the submitter's rolling performance window
	v1, err := e.Registry().Get("v1")
	require.NoError(t, err)
	assert.InDelta(t, 145.0, v1.PerformanceScore, 0.0001)

	// The submission joins the pending pool for the next block
	assert.Equal(t, 1, e.Producer().PendingCount())
}

func TestVerifier_ScoreBounds(t *testing.T) {
	tests := []struct {
		name     string
		execMs   int64
		expected float64
	}{
		{"Instant", 1, 149.995},
		{"AtReferenceWindow", 10000, 100},
		{"SlowerThanReference", 60000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, verificationScore(tt.execMs), 0.0001)
		})
	}
}

func TestVerifier_RejectsInvalidProof(t *testing.T) {
	e := newTestEngine(t, nil)
	registerQuorum(t, e, 2, 2500)

	req := workRequest("v1", "task-1", "in", "out", 1000)
	req.Proof = "forged"

	_, err := e.HandleWork(req)
	assert.ErrorIs(t, err, ErrInvalidProof)
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Rejection has no side effects
	assert.Equal(t, 0, e.Producer().PendingCount())
	v1, err := e.Registry().Get("v1")
	require.NoError(t, err)
	assert.Empty(t, v1.RecentScores)

	stats := e.verifier.Stats()
	assert.Equal(t, uint64(0), stats.Verified)
	assert.Equal(t, uint64(1), stats.Rejected)
}

func TestVerifier_ProofBoundToDeclaredTime(t *testing.T) {
	e := newTestEngine(t, nil)
	registerQuorum(t, e, 2, 2500)

	// Proof computed for one execution time, claim submitted with another
	req := workRequest("v1", "task-1", "in", "out", 1000)
	req.ExecutionTimeMs = 10

	_, err := e.HandleWork(req)
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestVerifier_RejectsUnknownAndInactive(t *testing.T) {
	e := newTestEngine(t, nil)
	registerQuorum(t, e, 2, 2500)

	_, err := e.HandleWork(workRequest("ghost", "task-1", "in", "out", 1000))
	assert.ErrorIs(t, err, ErrUnknownValidator)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, e.Registry().Deactivate("v2", "test"))
	_, err = e.HandleWork(workRequest("v2", "task-1", "in", "out", 1000))
	assert.ErrorIs(t, err, ErrInactiveValidator)
	assert.ErrorIs(t, err, ErrPolicyViolation)
}

func TestVerifier_SignatureChecked(t *testing.T) {
	cfg := testConfig()
	e := NewEngine(cfg, signatureStub{valid: false}, zap.NewNop())
	registerQuorum(t, e, 2, 2500)

	req := workRequest("v1", "task-1", "in", "out", 1000)
	req.Signature = []byte("sig")

	_, err := e.HandleWork(req)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// Unsigned requests bypass the verifier
	_, err = e.HandleWork(workRequest("v1", "task-1", "in", "out", 1000))
	assert.NoError(t, err)
}

type signatureStub struct{ valid bool }

func (s signatureStub) Verify(publicKey, message, signature []byte) bool { return s.valid }
