package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

// TaskHandCashRollover carries a day's closing balance into the next day.
const TaskHandCashRollover = "handcash:rollover"

// RolloverPayload names the day to roll from; empty means yesterday in the
// store's timezone.
type RolloverPayload struct {
	Date string `json:"date,omitempty"`
}

// Roller is the slice of the ledger service the rollover job needs.
type Roller interface {
	RolloverDay(ctx context.Context, date string) (domain.HandCash, error)
	RolloverPreviousDay(ctx context.Context) (domain.HandCash, error)
}

func NewRolloverTask(date string) (*asynq.Task, error) {
	body, err := json.Marshal(RolloverPayload{Date: strings.TrimSpace(date)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskHandCashRollover, body, asynq.Queue(QueueDefault)), nil
}

type RolloverJob struct {
	roller Roller
	logger *slog.Logger
}

func NewRolloverJob(roller Roller, logger *slog.Logger) *RolloverJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RolloverJob{roller: roller, logger: logger.With("task", TaskHandCashRollover)}
}

// Handle rolls the requested day forward. A day that was never opened has
// nothing to carry, so the task is dropped instead of retried.
func (j *RolloverJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.roller == nil {
		return errors.New("rollover: handler not configured")
	}
	var payload RolloverPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("rollover payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	var (
		record domain.HandCash
		err    error
	)
	if payload.Date == "" {
		record, err = j.roller.RolloverPreviousDay(ctx)
	} else {
		record, err = j.roller.RolloverDay(ctx, payload.Date)
	}
	switch {
	case errors.Is(err, store.ErrNoRecordForDate):
		j.logger.WarnContext(ctx, "no hand cash day to roll over", "date", payload.Date)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case errors.Is(err, store.ErrInvalidTransaction):
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case err != nil:
		j.logger.ErrorContext(ctx, "hand cash rollover failed", "date", payload.Date, "error", err)
		return err
	}

	j.logger.InfoContext(ctx, "hand cash rolled over", "opened", record.Date, "opening_cents", record.OpeningBalanceCents)
	return nil
}
