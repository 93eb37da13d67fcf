package recruit

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSchedule = errors.New("invalid schedule expression")
	ErrNotAuthorized   = errors.New("only the organizer can close this session")
	ErrUnknownRole     = errors.New("unknown role")
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyTitle      = errors.New("title is required")
)

// ScheduleError reports which field of a date or clock expression was out
// of range. It matches ErrInvalidSchedule with errors.Is.
type ScheduleError struct {
	Field string
	Value string
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("%s: %s %q out of range", ErrInvalidSchedule, e.Field, e.Value)
}

func (e *ScheduleError) Is(target error) bool { return target == ErrInvalidSchedule }
