package recovery

import (
	"context"

	"github.com/hibiken/asynq"
)

// Worker adapts the scanner to the periodic asynq task the scheduler emits.
type Worker struct {
	scanner *Scanner
}

func NewWorker(scanner *Scanner) *Worker {
	return &Worker{scanner: scanner}
}

func (w *Worker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	_, err := w.scanner.Scan(ctx)
	return err
}
