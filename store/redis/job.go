package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/job"
)

// EnqueueJob stores the job as a Hash and places it on the queue's ready or
// delayed Sorted Set depending on eligibility. Dedup keys are reserved with
// HSETNX before anything is written, making it the single atomic arbiter:
// of two concurrent enqueues for one key, exactly one wins the field.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return pulse.ErrJobAlreadyExists
	}

	if j.DedupKey != "" {
		for {
			set, nxErr := s.client.HSetNX(ctx, dedupKey(j.Queue), j.DedupKey, jID).Result()
			if nxErr != nil {
				return fmt.Errorf("pulse/redis: enqueue dedup reserve: %w", nxErr)
			}
			if set {
				break
			}
			_, findErr := s.FindByDedupKey(ctx, j.Queue, j.DedupKey)
			if findErr == nil {
				return pulse.ErrDuplicateJob
			}
			if !errors.Is(findErr, pulse.ErrJobNotFound) {
				return findErr
			}
			// The holder was stale and has been released; reserve again.
		}
	}

	now := time.Now().UTC()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	if j.Claimable(now) {
		pipe.ZAdd(ctx, readyKey(j.Queue), goredis.Z{Score: jobScore(j.Priority, j.RunAt), Member: jID})
	} else {
		pipe.ZAdd(ctx, delayedKey(j.Queue), goredis.Z{Score: float64(j.RunAt.UnixMilli()), Member: jID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: enqueue job: %w", err)
	}
	return nil
}

// claimScript pops up to ARGV[4] ready jobs and marks each one active in
// the same atomic step. Popping and marking in separate commands would
// strand a job on a crash in between: off every index in a state the
// stale-job reaper never scans.
//
// KEYS[1] ready sorted set
// ARGV[1] job hash key prefix
// ARGV[2] active state value
// ARGV[3] now, RFC3339Nano
// ARGV[4] max jobs to pop
//
// Returns the popped job IDs.
var claimScript = goredis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1], ARGV[4])
local ids = {}
for i = 1, #popped, 2 do
	local jid = popped[i]
	redis.call('HSET', ARGV[1] .. jid, 'state', ARGV[2], 'heartbeat_at', ARGV[3], 'updated_at', ARGV[3])
	ids[#ids + 1] = jid
end
return ids
`)

// ClaimJobs atomically pops up to limit claimable jobs from the given
// queues, sets them active, and returns them. Paused queues are skipped.
func (s *Store) ClaimJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()
	var jobs []*job.Job

	for _, q := range queues {
		if limit > 0 && len(jobs) >= limit {
			break
		}

		paused, err := s.client.SIsMember(ctx, pausedQueuesKey, q).Result()
		if err != nil {
			return nil, fmt.Errorf("pulse/redis: claim paused check: %w", err)
		}
		if paused {
			continue
		}

		if err := s.promoteDue(ctx, q, now); err != nil {
			return nil, err
		}

		remaining := limit - len(jobs)
		res, err := claimScript.Run(ctx, s.client, []string{readyKey(q)},
			jobKeyPrefix,
			string(job.StateActive),
			now.Format(time.RFC3339Nano),
			remaining,
		).Result()
		if err != nil {
			return nil, fmt.Errorf("pulse/redis: claim pop: %w", err)
		}

		ids, ok := res.([]interface{})
		if !ok {
			return nil, fmt.Errorf("pulse/redis: claim pop: unexpected reply %v", res)
		}
		for _, v := range ids {
			jID, ok := v.(string)
			if !ok {
				continue
			}
			j, getErr := s.getJobByKey(ctx, jobKey(jID))
			if getErr != nil {
				continue // popped a dangling reference
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// promoteDue moves delayed jobs whose RunAt has elapsed onto the ready set.
func (s *Store) promoteDue(ctx context.Context, queue string, now time.Time) error {
	due, err := s.client.ZRangeByScore(ctx, delayedKey(queue), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: promote due: %w", err)
	}

	for _, jID := range due {
		vals, getErr := s.client.HMGet(ctx, jobKey(jID), "priority", "run_at").Result()
		if getErr != nil {
			continue
		}
		priority := 0
		var runAt time.Time
		if v, ok := vals[0].(string); ok {
			priority, _ = strconv.Atoi(v) //nolint:errcheck // best-effort parse from trusted Redis data
		}
		if v, ok := vals[1].(string); ok {
			runAt, _ = time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		}

		pipe := s.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey(queue), jID)
		pipe.ZAdd(ctx, readyKey(queue), goredis.Z{Score: jobScore(priority, runAt), Member: jID})
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return fmt.Errorf("pulse/redis: promote due move: %w", pErr)
		}
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// FindByDedupKey returns the non-terminal job carrying the dedup key on the
// given queue.
func (s *Store) FindByDedupKey(ctx context.Context, queue, key string) (*job.Job, error) {
	jID, err := s.client.HGet(ctx, dedupKey(queue), key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, pulse.ErrJobNotFound
		}
		return nil, fmt.Errorf("pulse/redis: find dedup: %w", err)
	}

	j, err := s.getJobByKey(ctx, jobKey(jID))
	if err != nil || j.State.Terminal() {
		// Stale index entry: the job is gone or already settled, so the
		// dedup key is free again.
		_ = s.client.HDel(ctx, dedupKey(queue), key).Err() //nolint:errcheck // best-effort cleanup
		return nil, pulse.ErrJobNotFound
	}
	return j, nil
}

// UpdateJob persists changes to an existing job and keeps the queue indexes
// consistent with its state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return pulse.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.ZRem(ctx, readyKey(j.Queue), jID)
	pipe.ZRem(ctx, delayedKey(j.Queue), jID)
	switch j.State {
	case job.StateWaiting:
		pipe.ZAdd(ctx, readyKey(j.Queue), goredis.Z{Score: jobScore(j.Priority, j.RunAt), Member: jID})
	case job.StateDelayed:
		pipe.ZAdd(ctx, delayedKey(j.Queue), goredis.Z{Score: float64(j.RunAt.UnixMilli()), Member: jID})
	case job.StateCompleted, job.StateFailed:
		if j.DedupKey != "" {
			pipe.HDel(ctx, dedupKey(j.Queue), j.DedupKey)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	j, err := s.getJobByKey(ctx, jobKey(jobID.String()))
	if err != nil {
		return err
	}
	return s.deleteJobRefs(ctx, j)
}

// deleteJobRefs removes the job hash and every index referencing it.
func (s *Store) deleteJobRefs(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, readyKey(j.Queue), jID)
	pipe.ZRem(ctx, delayedKey(j.Queue), jID)
	if j.DedupKey != "" {
		pipe.HDel(ctx, dedupKey(j.Queue), j.DedupKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("pulse/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// HeartbeatJob refreshes the liveness timestamp of an active job and records
// its progress.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, progress int) error {
	key := jobKey(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return pulse.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"progress", strconv.Itoa(progress),
		"updated_at", now,
	).Err(); err != nil {
		return fmt.Errorf("pulse/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than the
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: reap smembers: %w", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != job.StateActive {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// DeleteJobsBefore removes jobs in the given terminal state whose completion
// predates cutoff.
func (s *Store) DeleteJobsBefore(ctx context.Context, queue string, state job.State, cutoff time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("pulse/redis: delete before smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != state {
			continue
		}
		if queue != "" && j.Queue != queue {
			continue
		}
		if j.CompletedAt == nil || j.CompletedAt.After(cutoff) {
			continue
		}
		if delErr := s.deleteJobRefs(ctx, j); delErr != nil {
			return count, delErr
		}
		count++
	}
	return count, nil
}

// PurgeTerminal removes the oldest jobs in the given terminal state beyond
// keep.
func (s *Store) PurgeTerminal(ctx context.Context, state job.State, keep int) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("pulse/redis: purge smembers: %w", err)
	}

	var matching []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State == state {
			matching = append(matching, j)
		}
	}
	if len(matching) <= keep {
		return 0, nil
	}

	// Oldest completion first.
	sort.Slice(matching, func(i, k int) bool {
		ti, tk := matching[i].CompletedAt, matching[k].CompletedAt
		switch {
		case ti == nil:
			return true
		case tk == nil:
			return false
		default:
			return ti.Before(*tk)
		}
	})

	var count int64
	for _, j := range matching[:len(matching)-keep] {
		if delErr := s.deleteJobRefs(ctx, j); delErr != nil {
			return count, delErr
		}
		count++
	}
	return count, nil
}

// SetQueuePaused pauses or resumes claiming for one queue.
func (s *Store) SetQueuePaused(ctx context.Context, queue string, paused bool) error {
	var err error
	if paused {
		err = s.client.SAdd(ctx, pausedQueuesKey, queue).Err()
	} else {
		err = s.client.SRem(ctx, pausedQueuesKey, queue).Err()
	}
	if err != nil {
		return fmt.Errorf("pulse/redis: set queue paused: %w", err)
	}
	return nil
}

// QueuePaused reports whether the queue is paused.
func (s *Store) QueuePaused(ctx context.Context, queue string) (bool, error) {
	paused, err := s.client.SIsMember(ctx, pausedQueuesKey, queue).Result()
	if err != nil {
		return false, fmt.Errorf("pulse/redis: queue paused: %w", err)
	}
	return paused, nil
}

// ── helpers ──

// jobScore computes a ready-set score from priority and run_at. Lower score
// claims first, so priority is negated and a fractional time component
// breaks ties FIFO within the same priority.
func jobScore(priority int, runAt time.Time) float64 {
	return float64(-priority) + float64(runAt.UnixMilli())/1e15
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":           j.ID.String(),
		"name":         j.Name,
		"queue":        j.Queue,
		"source":       j.Source,
		"payload":      string(j.Payload),
		"result":       string(j.Result),
		"state":        string(j.State),
		"priority":     strconv.Itoa(j.Priority),
		"attempts":     strconv.Itoa(j.Attempts),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"dedup_key":    j.DedupKey,
		"progress":     strconv.Itoa(j.Progress),
		"last_error":   j.LastError,
		"worker_id":    j.WorkerID.String(),
		"run_at":       j.RunAt.Format(time.RFC3339Nano),
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	} else {
		m["started_at"] = ""
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	} else {
		m["completed_at"] = ""
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	} else {
		m["heartbeat_at"] = ""
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, pulse.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])           //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	progress, _ := strconv.Atoi(m["progress"])           //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: pulse.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          jID,
		Name:        m["name"],
		Queue:       m["queue"],
		Source:      m["source"],
		Payload:     []byte(m["payload"]),
		State:       job.State(m["state"]),
		Priority:    priority,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		DedupKey:    m["dedup_key"],
		Progress:    progress,
		LastError:   m["last_error"],
		RunAt:       runAt,
		Timeout:     time.Duration(timeout),
	}
	if m["result"] != "" {
		j.Result = []byte(m["result"])
	}

	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}
	if v := m["heartbeat_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.HeartbeatAt = &t
	}

	return j, nil
}
