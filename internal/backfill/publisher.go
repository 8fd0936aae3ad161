package backfill

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flowgate/internal/model"
)

// signalSubjectPrefix is the subject space for backfill wakeup signals. The
// per-processor suffix lets a worker filter to a subset of processors.
const signalSubjectPrefix = "flowgate.backfill"

// Sender is the transport slice the publisher needs.
type Sender interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// StreamPublisher emits backfill work signals onto JetStream.
type StreamPublisher struct {
	sender Sender
}

// NewStreamPublisher wraps a stream connection as a Publisher.
func NewStreamPublisher(sender Sender) *StreamPublisher {
	return &StreamPublisher{sender: sender}
}

// PublishBackfill emits the signal for one queued request.
func (p *StreamPublisher) PublishBackfill(ctx context.Context, req model.BackfillRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return eris.Wrap(err, "backfill: marshal request")
	}
	return p.sender.Publish(ctx, signalSubjectPrefix+"."+req.Processor, data)
}
