package dispatcher

import (
	"context"

	"github.com/guido-cesarano/librarytasks/pkg/tasks"
	"github.com/rs/zerolog"
)

// Observer is notified of every task right before it is handed to the transport.
// It must not block; it has no influence on the submission.
type Observer interface {
	Submitting(ctx context.Context, task tasks.Task)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, task tasks.Task)

func (f ObserverFunc) Submitting(ctx context.Context, task tasks.Task) { f(ctx, task) }

// NopObserver ignores every task.
type NopObserver struct{}

func (NopObserver) Submitting(context.Context, tasks.Task) {}

// LogObserver logs every task at info level.
type LogObserver struct {
	log zerolog.Logger
}

func NewLogObserver(l zerolog.Logger) LogObserver {
	return LogObserver{log: l}
}

func (o LogObserver) Submitting(_ context.Context, task tasks.Task) {
	o.log.Info().
		Str("kind", string(task.Kind())).
		Str("unique_id", task.UniqueID()).
		Stringer("task", task).
		Msg("Sending task")
}
