package queue

import (
	"context"
	"encoding/json"

	"github.com/guido-cesarano/librarytasks/pkg/metrics"
	"github.com/guido-cesarano/librarytasks/pkg/tasks"
	"github.com/nats-io/nats.go"
)

const (
	DefaultSubject = "library.tasks"

	// HeaderTaskType carries the routing type of a task message.
	HeaderTaskType = "Task-Type"
)

// NATSPublisher submits tasks to a NATS subject.
//
// The unique id is sent as the Nats-Msg-Id header. When a JetStream stream captures
// the subject, its duplicate window drops equivalent tasks published within the window.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher creates a publisher on an established connection.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

// Submit publishes task. It returns once the message is handed to the connection.
func (p *NATSPublisher) Submit(ctx context.Context, task tasks.Task, routing tasks.Routing) error {
	msg, err := newTaskMsg(p.subject, task, routing)
	if err != nil {
		metrics.TasksSubmitted.WithLabelValues(string(task.Kind()), metrics.OutcomeError).Inc()
		return err
	}
	if err := ctx.Err(); err != nil {
		metrics.TasksSubmitted.WithLabelValues(string(task.Kind()), metrics.OutcomeError).Inc()
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		metrics.TasksSubmitted.WithLabelValues(string(task.Kind()), metrics.OutcomeError).Inc()
		return err
	}
	metrics.TasksSubmitted.WithLabelValues(string(task.Kind()), metrics.OutcomeEnqueued).Inc()
	return nil
}

func newTaskMsg(subject string, task tasks.Task, routing tasks.Routing) (*nats.Msg, error) {
	env, err := tasks.NewEnvelope(task, routing)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, routing.UniqueID)
	msg.Header.Set(HeaderTaskType, routing.Type)
	return msg, nil
}
