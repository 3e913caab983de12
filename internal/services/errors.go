package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedSpec      = errors.New("malformed pipeline spec")
	ErrEmptySpec          = errors.New("empty pipeline spec")
	ErrCycleDetected      = errors.New("dependency cycle detected")
	ErrDuplicateComponent = errors.New("duplicate component instantiation")
	ErrVolumeAllocation   = errors.New("volume allocation failed")
	ErrVolumeAccess       = errors.New("volume access failed")
	ErrSubmission         = errors.New("pipeline submission failed")
	ErrRunFailed          = errors.New("pipeline run failed")
	ErrRunTimedOut        = errors.New("pipeline run timed out")
	ErrFetchFailed        = errors.New("volume fetch failed")
	ErrReleaseFailed      = errors.New("volume release failed")
	ErrConfiguration      = errors.New("configuration error")
	ErrVolumeNotFound     = errors.New("volume not found")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above; a nil marker is treated as ErrConfiguration.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrConfiguration
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Exit statuses reported by the CLI, one per taxonomy entry.
const (
	ExitOK                 = 0
	ExitUnknown            = 1
	ExitConfiguration      = 2
	ExitMalformedSpec      = 10
	ExitEmptySpec          = 11
	ExitCycleDetected      = 12
	ExitDuplicateComponent = 13
	ExitVolumeAllocation   = 20
	ExitVolumeAccess       = 21
	ExitSubmission         = 30
	ExitRunFailed          = 31
	ExitRunTimedOut        = 32
	ExitFetchFailed        = 40
	ExitReleaseFailed      = 41
)

// classification is ordered: run outcomes outrank teardown failures so a joined
// error reports the run's own terminal result first.
var classification = []struct {
	marker  error
	code    int
	summary string
}{
	{ErrMalformedSpec, ExitMalformedSpec, "pipeline spec is malformed"},
	{ErrEmptySpec, ExitEmptySpec, "pipeline spec declares no components"},
	{ErrCycleDetected, ExitCycleDetected, "pipeline dependencies contain a cycle"},
	{ErrDuplicateComponent, ExitDuplicateComponent, "component instantiated twice"},
	{ErrConfiguration, ExitConfiguration, "configuration is invalid"},
	{ErrVolumeAllocation, ExitVolumeAllocation, "shared volume could not be allocated"},
	{ErrSubmission, ExitSubmission, "pipeline could not be submitted"},
	{ErrRunFailed, ExitRunFailed, "pipeline run failed"},
	{ErrRunTimedOut, ExitRunTimedOut, "pipeline run timed out"},
	{ErrFetchFailed, ExitFetchFailed, "run succeeded but outputs could not be retrieved"},
	{ErrVolumeAccess, ExitVolumeAccess, "shared volume could not be accessed"},
	{ErrReleaseFailed, ExitReleaseFailed, "shared volume could not be released"},
}

// ExitCode maps an invocation error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	for _, c := range classification {
		if errors.Is(err, c.marker) {
			return c.code
		}
	}
	return ExitUnknown
}

// Describe returns a one-line summary distinguishing the failure class.
func Describe(err error) string {
	if err == nil {
		return "pipeline completed"
	}
	for _, c := range classification {
		if errors.Is(err, c.marker) {
			return c.summary
		}
	}
	return "autopipe failed"
}

// IsPartialSuccess reports whether the run itself succeeded but output
// retrieval did not.
func IsPartialSuccess(err error) bool {
	if err == nil || !errors.Is(err, ErrFetchFailed) {
		return false
	}
	return !errors.Is(err, ErrRunFailed) && !errors.Is(err, ErrRunTimedOut) && !errors.Is(err, ErrSubmission)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "autopipe failure"
	}
	return strings.Join(parts, ": ")
}
