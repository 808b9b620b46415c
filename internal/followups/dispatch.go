package followups

import (
	"context"
	"encoding/json"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
)

// EventFollowUpRequested is the message attribute value for dispatched questions.
const EventFollowUpRequested = "followup.requested"

// QuestionMessage is the Pub/Sub payload handed to the worker.
type QuestionMessage struct {
	QuestionID uuid.UUID `json:"question_id"`
}

type pubsubDispatcher struct {
	pub *gcppubsub.Publisher
}

// NewDispatcher wraps a Pub/Sub publisher for follow-up questions.
func NewDispatcher(pub *gcppubsub.Publisher) (Dispatcher, error) {
	if pub == nil {
		return nil, fmt.Errorf("follow-up publisher required")
	}
	return &pubsubDispatcher{pub: pub}, nil
}

func (d *pubsubDispatcher) Dispatch(ctx context.Context, questionID uuid.UUID) error {
	if questionID == uuid.Nil {
		return fmt.Errorf("question id is required")
	}

	data, err := json.Marshal(QuestionMessage{QuestionID: questionID})
	if err != nil {
		return fmt.Errorf("encoding question message: %w", err)
	}

	result := d.pub.Publish(ctx, &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event": EventFollowUpRequested,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing follow-up question: %w", err)
	}
	return nil
}
