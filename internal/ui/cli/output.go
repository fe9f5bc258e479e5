package cli

import (
	"fmt"

	"zira/internal/core/jobs"

	json "github.com/goccy/go-json"
)

func (s *session) writeJSON(v any) int {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(s.errOut, "encode output: %v\n", err)
		return 1
	}
	return 0
}

// writeJSONResult prints the whole result and maps its outcome to an exit
// code.
func (s *session) writeJSONResult(res jobs.JobResult) int {
	if code := s.writeJSON(res); code != 0 {
		return code
	}
	switch res.Outcome {
	case jobs.OutcomeSuccess:
		return 0
	case jobs.OutcomeCancelled:
		return exitCancelled
	}
	return 1
}
