package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
)

// promoteScript atomically moves due delayed jobs onto the ready list. The
// move must happen store-side so two schedulers never double-promote.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for i, v in ipairs(due) do
  redis.call('LPUSH', KEYS[2], v)
  redis.call('ZREM', KEYS[1], v)
end
return #due
`)

// queueState holds one named queue's consumer registration.
type queueState struct {
	name        string
	concurrency int
	handler     Handler
	onExhausted ExhaustedFunc
}

// Manager is the durable job queue layer: named redis-backed queues with
// per-queue retry/backoff, bounded completed/failed history, repeatable
// schedules, and dedicated workers with fixed concurrency.
type Manager struct {
	client  *redis.Client
	prefix  string
	poll    time.Duration
	logger  *logger.Logger
	repeats *repeatRegistry

	mu          sync.Mutex
	queues      map[string]*queueState
	initialized bool
	closed      bool
	stop        context.CancelFunc
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewManager constructs the queue layer. Queues are registered with
// Register before Init starts their workers.
func NewManager(client *redis.Client, prefix string, poll time.Duration, lg *logger.Logger) *Manager {
	if poll <= 0 {
		poll = time.Second
	}
	return &Manager{
		client:  client,
		prefix:  prefix,
		poll:    poll,
		logger:  lg,
		repeats: newRepeatRegistry(),
		queues:  make(map[string]*queueState),
	}
}

// Register declares a queue consumer. The expired-buffers queue runs with
// concurrency 1 so claim handling stays sequential inside one process.
func (m *Manager) Register(queue string, concurrency int, handler Handler, onExhausted ExhaustedFunc) {
	if concurrency <= 0 {
		concurrency = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queue] = &queueState{
		name:        queue,
		concurrency: concurrency,
		handler:     handler,
		onExhausted: onExhausted,
	}
}

// Probe checks backend reachability within the timeout.
func (m *Manager) Probe(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := m.client.Ping(pctx).Err(); err != nil {
		return fmt.Errorf("jobs: probe: %w", err)
	}
	return nil
}

// Enqueue places a job on the named queue. A delay of zero makes it
// immediately ready.
func (m *Manager) Enqueue(ctx context.Context, queue, jobName string, payload any, opts Options) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobs: marshal payload: %w", err)
	}

	job := &Job{
		ID:         uuid.New(),
		Queue:      queue,
		Name:       jobName,
		Payload:    raw,
		Attempt:    0,
		Opts:       opts,
		EnqueuedAt: time.Now().UTC(),
	}

	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobs: marshal job: %w", err)
	}

	if err := m.client.LPush(ctx, m.readyKey(queue), encoded).Err(); err != nil {
		return fmt.Errorf("jobs: enqueue %s/%s: %w", queue, jobName, err)
	}
	return nil
}

// ScheduleRepeatable registers a recurring job. Existing registrations with
// the same name are removed first, so repeated calls (and repeated process
// starts) net exactly one schedule.
func (m *Manager) ScheduleRepeatable(queue, jobName string, payload any, every time.Duration, opts Options) error {
	if every <= 0 {
		return fmt.Errorf("jobs: repeatable %s/%s: period must be positive", queue, jobName)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobs: marshal repeatable payload: %w", err)
	}

	m.repeats.add(&repeatSchedule{
		queue:   queue,
		name:    jobName,
		payload: raw,
		every:   every,
		opts:    opts,
		nextAt:  time.Now().UTC().Add(every),
	})
	return nil
}

// RemoveRepeatable drops a recurring registration.
func (m *Manager) RemoveRepeatable(queue, jobName string) {
	m.repeats.remove(queue, jobName)
}

// RepeatableCount reports the number of schedules registered for a queue.
func (m *Manager) RepeatableCount(queue string) int {
	return m.repeats.countForQueue(queue)
}

// Init starts schedulers and workers for every registered queue. It is
// idempotent: a second call is a no-op.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized || m.closed {
		return nil
	}

	// popCtx stops intake of new jobs; runCtx stays live for the job that is
	// already in a handler so its retry bookkeeping can still reach redis
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	popCtx, stop := context.WithCancel(runCtx)
	m.cancel = cancel
	m.stop = stop

	for _, q := range m.queues {
		m.wg.Add(1)
		go func(q *queueState) {
			defer m.wg.Done()
			m.schedulerLoop(popCtx, q)
		}(q)

		for i := 0; i < q.concurrency; i++ {
			m.wg.Add(1)
			go func(q *queueState) {
				defer m.wg.Done()
				m.workerLoop(popCtx, runCtx, q)
			}(q)
		}
	}

	m.initialized = true
	return nil
}

// Close stops intake first so in-flight jobs finish on a live context, then
// waits for the drain up to the context deadline. The hard cancel fires only
// after the wait, catching handlers that did not come back in time. Safe to
// call when Init never ran.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stop := m.stop
	cancel := m.cancel
	initialized := m.initialized
	m.mu.Unlock()

	if !initialized {
		return nil
	}
	stop()
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs: close: workers did not drain: %w", ctx.Err())
	}
}

// schedulerLoop promotes due delayed jobs, fires due repeatables, and trims
// retention sets on each tick.
func (m *Manager) schedulerLoop(ctx context.Context, q *queueState) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now().UTC()

		if _, err := promoteScript.Run(ctx, m.client,
			[]string{m.delayedKey(q.name), m.readyKey(q.name)},
			strconv.FormatInt(now.UnixMilli(), 10), 100,
		).Result(); err != nil && ctx.Err() == nil {
			m.logger.Warn("jobs: promote delayed", zap.String("queue", q.name), zap.Error(err))
		}

		for _, s := range m.repeats.due(q.name, now) {
			if err := m.Enqueue(ctx, s.queue, s.name, json.RawMessage(s.payload), s.opts); err != nil && ctx.Err() == nil {
				m.logger.Warn("jobs: fire repeatable", zap.String("queue", s.queue), zap.String("job", s.name), zap.Error(err))
			}
		}
	}
}

// workerLoop pulls ready jobs one at a time and runs the queue handler.
// popCtx gates intake; runCtx outlives it so the current job completes
// cleanly during shutdown.
func (m *Manager) workerLoop(popCtx, runCtx context.Context, q *queueState) {
	for {
		if popCtx.Err() != nil {
			return
		}

		res, err := m.client.BLPop(popCtx, m.poll, m.readyKey(q.name)).Result()
		if err != nil {
			if popCtx.Err() != nil {
				return
			}
			if err != redis.Nil {
				m.logger.Warn("jobs: pop", zap.String("queue", q.name), zap.Error(err))
				select {
				case <-popCtx.Done():
					return
				case <-time.After(m.poll):
				}
			}
			continue
		}
		if len(res) < 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			m.logger.Error("jobs: unmarshal job", zap.String("queue", q.name), zap.Error(err))
			continue
		}

		m.process(runCtx, q, &job)
	}
}

func (m *Manager) process(ctx context.Context, q *queueState, job *Job) {
	tracer := otel.Tracer("replypipe.jobs")
	jctx, span := tracer.Start(ctx, "job.process", trace.WithAttributes(
		attribute.String("queue", q.name),
		attribute.String("job.name", job.Name),
		attribute.Int("job.attempt", job.Attempt+1),
	))
	defer span.End()

	err := q.handler(jctx, job)
	job.Attempt++
	now := time.Now().UTC()

	if err == nil {
		m.record(jctx, m.completedKey(q.name), job, now, job.Opts.RemoveOnCompleteAge, job.Opts.RemoveOnCompleteCount)
		return
	}

	span.RecordError(err)
	job.LastError = err.Error()

	if job.Attempt < job.Opts.Attempts {
		delay := backoffDelay(job.Opts, job.Attempt)
		encoded, merr := json.Marshal(job)
		if merr != nil {
			m.logger.Error("jobs: marshal retry", zap.String("queue", q.name), zap.Error(merr))
			return
		}
		if zerr := m.client.ZAdd(jctx, m.delayedKey(q.name), redis.Z{
			Score:  float64(now.Add(delay).UnixMilli()),
			Member: encoded,
		}).Err(); zerr != nil {
			m.logger.WithTrace(jctx).Error("jobs: schedule retry", zap.String("queue", q.name), zap.Error(zerr))
		}
		m.logger.WithTrace(jctx).Warn("jobs: job failed, retry scheduled",
			zap.String("queue", q.name),
			zap.String("job", job.Name),
			zap.Int("attempt", job.Attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		return
	}

	m.record(jctx, m.failedKey(q.name), job, now, job.Opts.RemoveOnFailAge, job.Opts.RemoveOnFailCount)
	m.logger.WithTrace(jctx).Error("jobs: job exhausted attempts, parked as failed",
		zap.String("queue", q.name),
		zap.String("job", job.Name),
		zap.Int("attempts", job.Attempt),
		zap.Error(err))
	if q.onExhausted != nil {
		q.onExhausted(jctx, job, err)
	}
}

// record appends the finished job to a retention zset and trims it by age
// and count.
func (m *Manager) record(ctx context.Context, key string, job *Job, now time.Time, maxAge time.Duration, maxCount int) {
	encoded, err := json.Marshal(job)
	if err != nil {
		return
	}
	pipe := m.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: encoded})
	if maxAge > 0 {
		cutoff := strconv.FormatInt(now.Add(-maxAge).UnixMilli(), 10)
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
	}
	if maxCount > 0 {
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-maxCount-1))
	}
	if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("jobs: record history", zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) readyKey(queue string) string {
	return m.prefix + ":q:" + queue + ":ready"
}

func (m *Manager) delayedKey(queue string) string {
	return m.prefix + ":q:" + queue + ":delayed"
}

func (m *Manager) completedKey(queue string) string {
	return m.prefix + ":q:" + queue + ":completed"
}

func (m *Manager) failedKey(queue string) string {
	return m.prefix + ":q:" + queue + ":failed"
}
