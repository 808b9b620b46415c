package generation

import (
	"context"
	"encoding/json"

	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/enums"
)

// Generator produces analysis content. The rest of the system only sees this
// interface; workers do not care which model or vendor sits behind it.
type Generator interface {
	GenerateAnalysis(ctx context.Context, req AnalysisRequest) (json.RawMessage, error)
	GenerateFollowUp(ctx context.Context, req FollowUpRequest) (string, error)
}

// AnalysisRequest carries the subject and scope of a full reading.
type AnalysisRequest struct {
	Profile *models.Profile
	Kind    enums.AnalysisKind
	Period  string
}

// FollowUpRequest carries one question against a finished reading.
type FollowUpRequest struct {
	Profile  *models.Profile
	Analysis json.RawMessage
	Question string
}
