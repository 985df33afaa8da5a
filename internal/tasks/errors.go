package tasks

import "errors"

var (
	// ErrStatsFormat is returned when the stats scratch file is not a JSON object.
	ErrStatsFormat = errors.New("tasks: stats file is not a JSON object")

	// ErrScratchFile is returned when a command scratch file cannot be created.
	ErrScratchFile = errors.New("tasks: cannot create scratch file")
)
