package analyses

import (
	"context"
	"encoding/json"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
)

// EventAnalysisRequested is the message attribute value for dispatched jobs.
const EventAnalysisRequested = "analysis.requested"

// JobMessage is the Pub/Sub payload handed to the worker.
type JobMessage struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
}

// Dispatcher hands admitted jobs to the worker out-of-band.
type Dispatcher interface {
	Dispatch(ctx context.Context, analysisID uuid.UUID) error
}

type pubsubDispatcher struct {
	pub *gcppubsub.Publisher
}

// NewDispatcher wraps a Pub/Sub publisher for analysis jobs.
func NewDispatcher(pub *gcppubsub.Publisher) (Dispatcher, error) {
	if pub == nil {
		return nil, fmt.Errorf("analysis publisher required")
	}
	return &pubsubDispatcher{pub: pub}, nil
}

func (d *pubsubDispatcher) Dispatch(ctx context.Context, analysisID uuid.UUID) error {
	if analysisID == uuid.Nil {
		return fmt.Errorf("analysis id is required")
	}

	data, err := json.Marshal(JobMessage{AnalysisID: analysisID})
	if err != nil {
		return fmt.Errorf("encoding job message: %w", err)
	}

	result := d.pub.Publish(ctx, &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event": EventAnalysisRequested,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing analysis job: %w", err)
	}
	return nil
}
