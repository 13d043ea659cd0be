package bus

import "github.com/aristath/tremor/internal/domain"

// Payload is implemented by every typed event body.
type Payload interface {
	// Topic returns the topic this payload is published under.
	Topic() Topic
}

// RunStartedData announces a new analysis run.
type RunStartedData struct {
	Source string `json:"source"`
}

func (d *RunStartedData) Topic() Topic { return RunStarted }

// RunProgressData reports pipeline progress within one run.
type RunProgressData struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

func (d *RunProgressData) Topic() Topic { return RunProgress }

// RunFinishedData closes a run with its terminal status.
type RunFinishedData struct {
	Status  domain.RunStatus `json:"status"`
	Passed  bool             `json:"passed"`
	Error   string           `json:"error,omitempty"`
	Elapsed float64          `json:"elapsed_seconds"`
}

func (d *RunFinishedData) Topic() Topic { return RunFinished }

// FieldScoredData carries one committed field score.
type FieldScoredData struct {
	Field     string  `json:"field"`
	Timeframe string  `json:"timeframe"`
	ROCAUC    float64 `json:"roc_auc"`
	Confirmed bool    `json:"confirmed"`
}

func (d *FieldScoredData) Topic() Topic { return FieldScored }

// VetoRaisedData carries the veto outcome for a run.
type VetoRaisedData struct {
	Vetoed     bool              `json:"vetoed"`
	Suppressed bool              `json:"suppressed"`
	Flags      []domain.VetoFlag `json:"flags"`
}

func (d *VetoRaisedData) Topic() Topic { return VetoRaised }

// DecisionData carries the final per-strategy decisions.
type DecisionData struct {
	Decisions []domain.CombinedDecision `json:"decisions"`
}

func (d *DecisionData) Topic() Topic { return DecisionMade }
