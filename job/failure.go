package job

import "fmt"

// FailureReport is the single terminal failure handed to the submitter.
// It carries enough to diagnose the failure without inspecting scheduler
// internals.
type FailureReport struct {
	StageID   string `json:"stageId"`
	Partition int    `json:"partition"`
	Attempts  int    `json:"attempts"`
	Message   string `json:"message"`
}

func (f *FailureReport) Error() string {
	return fmt.Sprintf("stage %s partition %d failed after %d attempts: %s",
		f.StageID, f.Partition, f.Attempts, f.Message)
}
