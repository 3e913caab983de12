package history

import (
	"database/sql"
	"fmt"
	"time"
)

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run            Run
		specPath       sql.NullString
		volume         sql.NullString
		backendRunID   sql.NullString
		detail         sql.NullString
		resultLocation sql.NullString
		outputDir      sql.NullString
		errorMessage   sql.NullString
		fetched        int64
		released       int64
		startedRaw     string
		endedRaw       sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Pipeline,
		&specPath,
		&run.ExecutionBackend,
		&run.VolumeBackend,
		&volume,
		&backendRunID,
		&run.State,
		&detail,
		&resultLocation,
		&outputDir,
		&errorMessage,
		&run.ExitCode,
		&fetched,
		&released,
		&startedRaw,
		&endedRaw,
	); err != nil {
		return nil, err
	}

	run.SpecPath = specPath.String
	run.Volume = volume.String
	run.BackendRunID = backendRunID.String
	run.Detail = detail.String
	run.ResultLocation = resultLocation.String
	run.OutputDir = outputDir.String
	run.ErrorMessage = errorMessage.String
	run.Fetched = fetched != 0
	run.Released = released != 0

	started, err := time.Parse(time.RFC3339Nano, startedRaw)
	if err != nil {
		return nil, fmt.Errorf("parse started_at for run %d: %w", run.ID, err)
	}
	run.StartedAt = started
	if endedRaw.Valid && endedRaw.String != "" {
		ended, err := time.Parse(time.RFC3339Nano, endedRaw.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at for run %d: %w", run.ID, err)
		}
		run.EndedAt = &ended
	}
	return &run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
