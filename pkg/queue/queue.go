package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	errs "github.com/SoCaTel/data-handlers/pkg/errors"
	"github.com/SoCaTel/data-handlers/pkg/logger"
	"github.com/SoCaTel/data-handlers/pkg/models"
)

// ErrEmpty is returned by Pop when the work queue has been drained
var ErrEmpty = errors.New("work queue is empty")

// Config holds the Redis connection settings for the work queue
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	List     string
}

// Queue consumes subjects from the shared Redis list. Consumption is a
// destructive pop: a record popped but not completed is lost for this run,
// which the watermark mechanism makes safe to re-enqueue later.
type Queue struct {
	rdb    *redis.Client
	list   string
	logger logger.Logger
}

// New creates a work-queue consumer
func New(cfg Config, log logger.Logger) *Queue {
	if log == nil {
		log = logger.GetLogger()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Queue{
		rdb:    rdb,
		list:   cfg.List,
		logger: log,
	}
}

// Len returns the number of pending subjects
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.list).Result()
	if err != nil {
		return 0, errs.Newf(errs.ErrorTypeTransport, "failed to read queue length: %v", err)
	}
	return n, nil
}

// Pop removes and returns the next subject, or ErrEmpty when drained.
// Records that cannot be decoded are surfaced as parsing errors; the
// record is already consumed at that point.
func (q *Queue) Pop(ctx context.Context) (*models.Subject, error) {
	data, err := q.rdb.LPop(ctx, q.list).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, errs.Newf(errs.ErrorTypeTransport, "failed to pop from queue: %v", err)
	}

	subject, err := models.DecodeSubject(data)
	if err != nil {
		q.logger.ErrorWithFields("malformed queue record", map[string]interface{}{
			"list":  q.list,
			"error": err.Error(),
		})
		return nil, errs.Newf(errs.ErrorTypeParsing, "malformed queue record: %v", err)
	}

	return subject, nil
}

// Close releases the Redis connection
func (q *Queue) Close() error {
	return q.rdb.Close()
}
