package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Publisher is the part of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

// NATSSink publishes events as JSON and waits for the server to acknowledge
// the flush before reporting success.
type NATSSink struct {
	pub     Publisher
	subject string
	timeout time.Duration
}

// NewNATSSink wraps an existing publisher.
func NewNATSSink(pub Publisher, subject string, timeout time.Duration) *NATSSink {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &NATSSink{pub: pub, subject: subject, timeout: timeout}
}

// ConnectNATS dials the NATS server with reconnect settings suitable for a
// long-running engine.
func ConnectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("mirador-heal"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
}

// Write publishes ev on the configured subject.
func (s *NATSSink) Write(ctx context.Context, ev models.AuditEvent) error {
	const op = "audit.NATSSink.Write"
	payload, err := json.Marshal(ev)
	if err != nil {
		return utils.Wrap(op, "marshal audit event", utils.ErrAudit, err)
	}
	if err := s.pub.Publish(s.subject, payload); err != nil {
		return utils.Wrap(op, "publish audit event", utils.ErrAudit, err)
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return utils.Wrap(op, "flush audit event", utils.ErrAudit, context.DeadlineExceeded)
	}
	if err := s.pub.FlushTimeout(timeout); err != nil {
		return utils.Wrap(op, "flush audit event", utils.ErrAudit, err)
	}
	return nil
}
