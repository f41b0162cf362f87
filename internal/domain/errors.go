package domain

import "fmt"

// ValidationError rejects a whole ingestion request. No record of the
// request is written when it is returned.
type ValidationError struct {
	Reason  string
	Details []RecordError
	Failed  int
	Total   int
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %d of %d events invalid", e.Failed, e.Total)
}

// Message is the human readable summary returned to callers.
func (e *ValidationError) Message() string {
	if len(e.Details) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%d of %d events failed validation", e.Failed, e.Total)
}

// FilterError reports an unparseable report filter parameter.
type FilterError struct {
	Param string
	Value string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid %s: %q is not a valid date-time", e.Param, e.Value)
}
