package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("duplicate record")
	ErrInvalidFilter = errors.New("invalid filter parameters")
)

// Repository defines the interface for audit persistence. The consensus core
// never calls it directly; the event relay applies core state to it.
type Repository interface {
	// Validator operations
	SaveValidator(ctx context.Context, v *Validator) error
	GetValidator(ctx context.Context, id string) (*Validator, error)
	ListValidators(ctx context.Context, filter ValidatorFilter) ([]*Validator, error)

	// Work submission operations
	SaveSubmission(ctx context.Context, s *WorkSubmission) error
	GetSubmission(ctx context.Context, id string) (*WorkSubmission, error)

	// Challenge operations
	SaveChallenge(ctx context.Context, c *Challenge) error
	GetChallenge(ctx context.Context, id string) (*Challenge, error)

	// Block operations
	SaveBlock(ctx context.Context, b *Block) error
	GetBlock(ctx context.Context, height uint64) (*Block, error)
	LatestBlock(ctx context.Context) (*Block, error)

	// Event operations; SaveEvent is idempotent by event id
	SaveEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)
}

// ValidatorFilter defines filter parameters for validator queries
type ValidatorFilter struct {
	Active   *bool
	MinStake *uint64
	Limit    int
	Offset   int
}

// EventFilter defines filter parameters for event queries
type EventFilter struct {
	Type        EventType
	ValidatorID string
	Since       *time.Time
	Limit       int
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository creates a new PostgreSQL repository instance
func NewPostgresRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{
		pool:   pool,
		logger: logger,
	}
}

// SaveValidator upserts a validator record
func (r *PostgresRepository) SaveValidator(ctx context.Context, v *Validator) error {
	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	history, err := json.Marshal(v.SlashingHistory)
	if err != nil {
		return fmt.Errorf("marshaling slashing history: %w", err)
	}

	query := `
		INSERT INTO validators (
			id, public_key, stake, reputation, active, performance_score,
			join_epoch, compute_capacity, endpoint, metadata, slashing_history,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			stake = EXCLUDED.stake,
			reputation = EXCLUDED.reputation,
			active = EXCLUDED.active,
			performance_score = EXCLUDED.performance_score,
			metadata = EXCLUDED.metadata,
			slashing_history = EXCLUDED.slashing_history,
			updated_at = EXCLUDED.updated_at`

	_, err = r.pool.Exec(ctx, query,
		v.ID, v.PublicKey, int64(v.Stake), v.Reputation, v.Active, v.PerformanceScore,
		int64(v.JoinEpoch), v.ComputeCapacity, v.Endpoint, metadata, history,
		v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving validator: %w", err)
	}
	return nil
}

// GetValidator retrieves a validator by id
func (r *PostgresRepository) GetValidator(ctx context.Context, id string) (*Validator, error) {
	query := `
		SELECT id, public_key, stake, reputation, active, performance_score,
		       join_epoch, compute_capacity, endpoint, metadata, slashing_history,
		       created_at, updated_at
		FROM validators WHERE id = $1`

	var (
		v        Validator
		stake    int64
		epoch    int64
		metadata []byte
		history  []byte
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&v.ID, &v.PublicKey, &stake, &v.Reputation, &v.Active, &v.PerformanceScore,
		&epoch, &v.ComputeCapacity, &v.Endpoint, &metadata, &history,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying validator: %w", err)
	}

	v.Stake = uint64(stake)
	v.JoinEpoch = uint64(epoch)
	if err := json.Unmarshal(metadata, &v.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	if err := json.Unmarshal(history, &v.SlashingHistory); err != nil {
		return nil, fmt.Errorf("unmarshaling slashing history: %w", err)
	}
	return &v, nil
}

// ListValidators retrieves validators matching the filter
func (r *PostgresRepository) ListValidators(ctx context.Context, filter ValidatorFilter) ([]*Validator, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, ErrInvalidFilter
	}

	query := `
		SELECT id, public_key, stake, reputation, active, performance_score,
		       join_epoch, compute_capacity, endpoint, metadata, slashing_history,
		       created_at, updated_at
		FROM validators WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if filter.Active != nil {
		query += fmt.Sprintf(" AND active = $%d", idx)
		args = append(args, *filter.Active)
		idx++
	}
	if filter.MinStake != nil {
		query += fmt.Sprintf(" AND stake >= $%d", idx)
		args = append(args, int64(*filter.MinStake))
		idx++
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
		idx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying validators: %w", err)
	}
	defer rows.Close()

	var validators []*Validator
	for rows.Next() {
		var (
			v        Validator
			stake    int64
			epoch    int64
			metadata []byte
			history  []byte
		)
		err := rows.Scan(
			&v.ID, &v.PublicKey, &stake, &v.Reputation, &v.Active, &v.PerformanceScore,
			&epoch, &v.ComputeCapacity, &v.Endpoint, &metadata, &history,
			&v.CreatedAt, &v.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning validator: %w", err)
		}
		v.Stake = uint64(stake)
		v.JoinEpoch = uint64(epoch)
		if err := json.Unmarshal(metadata, &v.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
		if err := json.Unmarshal(history, &v.SlashingHistory); err != nil {
			return nil, fmt.Errorf("unmarshaling slashing history: %w", err)
		}
		validators = append(validators, &v)
	}
	return validators, rows.Err()
}

// SaveSubmission upserts a work submission record
func (r *PostgresRepository) SaveSubmission(ctx context.Context, s *WorkSubmission) error {
	query := `
		INSERT INTO work_submissions (
			id, validator_id, task_id, input_hash, output_hash, proof,
			execution_time_ms, verified, verification_score, challenge_issued,
			submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			verified = EXCLUDED.verified,
			verification_score = EXCLUDED.verification_score,
			challenge_issued = EXCLUDED.challenge_issued`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.ValidatorID, s.TaskID, s.InputHash, s.OutputHash, s.Proof,
		s.ExecutionTimeMs, s.Verified, s.VerificationScore, s.ChallengeIssued,
		s.SubmittedAt)
	if err != nil {
		return fmt.Errorf("saving submission: %w", err)
	}
	return nil
}

// GetSubmission retrieves a work submission by id
func (r *PostgresRepository) GetSubmission(ctx context.Context, id string) (*WorkSubmission, error) {
	query := `
		SELECT id, validator_id, task_id, input_hash, output_hash, proof,
		       execution_time_ms, verified, verification_score, challenge_issued,
		       submitted_at
		FROM work_submissions WHERE id = $1`

	var s WorkSubmission
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.ValidatorID, &s.TaskID, &s.InputHash, &s.OutputHash, &s.Proof,
		&s.ExecutionTimeMs, &s.Verified, &s.VerificationScore, &s.ChallengeIssued,
		&s.SubmittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	return &s, nil
}

// SaveChallenge upserts a challenge record
func (r *PostgresRepository) SaveChallenge(ctx context.Context, c *Challenge) error {
	challengers, err := json.Marshal(c.Challengers)
	if err != nil {
		return fmt.Errorf("marshaling challengers: %w", err)
	}
	responses, err := json.Marshal(c.Responses)
	if err != nil {
		return fmt.Errorf("marshaling responses: %w", err)
	}
	outcome, err := json.Marshal(c.Outcome)
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}

	query := `
		INSERT INTO challenges (
			id, submission_id, challenged_id, challengers, deadline,
			responses, status, outcome, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			responses = EXCLUDED.responses,
			status = EXCLUDED.status,
			outcome = EXCLUDED.outcome`

	_, err = r.pool.Exec(ctx, query,
		c.ID, c.SubmissionID, c.ChallengedID, challengers, c.Deadline,
		responses, string(c.Status), outcome, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving challenge: %w", err)
	}
	return nil
}

// GetChallenge retrieves a challenge by id
func (r *PostgresRepository) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	query := `
		SELECT id, submission_id, challenged_id, challengers, deadline,
		       responses, status, outcome, created_at
		FROM challenges WHERE id = $1`

	var (
		c           Challenge
		challengers []byte
		responses   []byte
		outcome     []byte
		status      string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.SubmissionID, &c.ChallengedID, &challengers, &c.Deadline,
		&responses, &status, &outcome, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying challenge: %w", err)
	}

	c.Status = ChallengeStatus(status)
	if err := json.Unmarshal(challengers, &c.Challengers); err != nil {
		return nil, fmt.Errorf("unmarshaling challengers: %w", err)
	}
	if err := json.Unmarshal(responses, &c.Responses); err != nil {
		return nil, fmt.Errorf("unmarshaling responses: %w", err)
	}
	if err := json.Unmarshal(outcome, &c.Outcome); err != nil {
		return nil, fmt.Errorf("unmarshaling outcome: %w", err)
	}
	return &c, nil
}

// SaveBlock persists a finalized block at its height
func (r *PostgresRepository) SaveBlock(ctx context.Context, b *Block) error {
	submissions, err := json.Marshal(b.Submissions)
	if err != nil {
		return fmt.Errorf("marshaling submissions: %w", err)
	}

	query := `
		INSERT INTO blocks (
			height, producer_id, prev_hash, merkle_root, hash,
			submissions, timestamp, signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (height) DO NOTHING`

	_, err = r.pool.Exec(ctx, query,
		int64(b.Height), b.ProducerID, b.PrevHash, b.MerkleRoot, b.Hash,
		submissions, b.Timestamp, b.Signature)
	if err != nil {
		return fmt.Errorf("saving block: %w", err)
	}
	return nil
}

// GetBlock retrieves a block by height
func (r *PostgresRepository) GetBlock(ctx context.Context, height uint64) (*Block, error) {
	query := `
		SELECT height, producer_id, prev_hash, merkle_root, hash,
		       submissions, timestamp, signature
		FROM blocks WHERE height = $1`
	return r.scanBlock(r.pool.QueryRow(ctx, query, int64(height)))
}

// LatestBlock retrieves the highest finalized block
func (r *PostgresRepository) LatestBlock(ctx context.Context) (*Block, error) {
	query := `
		SELECT height, producer_id, prev_hash, merkle_root, hash,
		       submissions, timestamp, signature
		FROM blocks ORDER BY height DESC LIMIT 1`
	return r.scanBlock(r.pool.QueryRow(ctx, query))
}

func (r *PostgresRepository) scanBlock(row pgx.Row) (*Block, error) {
	var (
		b           Block
		height      int64
		submissions []byte
	)
	err := row.Scan(
		&height, &b.ProducerID, &b.PrevHash, &b.MerkleRoot, &b.Hash,
		&submissions, &b.Timestamp, &b.Signature)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying block: %w", err)
	}

	b.Height = uint64(height)
	if err := json.Unmarshal(submissions, &b.Submissions); err != nil {
		return nil, fmt.Errorf("unmarshaling submissions: %w", err)
	}
	return &b, nil
}

// SaveEvent persists an event; duplicate event ids are ignored so downstream
// replay stays idempotent.
func (r *PostgresRepository) SaveEvent(ctx context.Context, e *Event) error {
	attributes, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshaling attributes: %w", err)
	}

	query := `
		INSERT INTO events (
			id, type, time, validator_id, submission_id, challenge_id,
			block_hash, height, epoch, amount, reason, attributes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	_, err = r.pool.Exec(ctx, query,
		e.ID, string(e.Type), e.Time, e.ValidatorID, e.SubmissionID, e.ChallengeID,
		e.BlockHash, int64(e.Height), int64(e.Epoch), int64(e.Amount), e.Reason, attributes)
	if err != nil {
		return fmt.Errorf("saving event: %w", err)
	}
	return nil
}

// ListEvents retrieves events matching the filter, newest first
func (r *PostgresRepository) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	query := `
		SELECT id, type, time, validator_id, submission_id, challenge_id,
		       block_hash, height, epoch, amount, reason, attributes
		FROM events WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", idx)
		args = append(args, string(filter.Type))
		idx++
	}
	if filter.ValidatorID != "" {
		query += fmt.Sprintf(" AND validator_id = $%d", idx)
		args = append(args, filter.ValidatorID)
		idx++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND time >= $%d", idx)
		args = append(args, *filter.Since)
		idx++
	}
	query += " ORDER BY time DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e          Event
			eventType  string
			height     int64
			epoch      int64
			amount     int64
			attributes []byte
		)
		err := rows.Scan(
			&e.ID, &eventType, &e.Time, &e.ValidatorID, &e.SubmissionID, &e.ChallengeID,
			&e.BlockHash, &height, &epoch, &amount, &e.Reason, &attributes)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Type = EventType(eventType)
		e.Height = uint64(height)
		e.Epoch = uint64(epoch)
		e.Amount = uint64(amount)
		if err := json.Unmarshal(attributes, &e.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshaling attributes: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
