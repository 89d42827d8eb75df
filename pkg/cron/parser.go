package cron

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidCronExpression = errors.New("invalid cron expression")

type CronSchedule struct {
	spec     cron.Schedule
	location *time.Location
}

// ParseCronExpression accepts five field expressions and descriptors such
// as "@every 10m" or "@hourly".
func ParseCronExpression(expr string) (*CronSchedule, error) {
	if expr == "" {
		return nil, ErrInvalidCronExpression
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	spec, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronExpression, err)
	}

	return &CronSchedule{spec: spec, location: time.UTC}, nil
}

func ValidateCronExpression(expr string) error {
	_, err := ParseCronExpression(expr)

	return err
}

// In evaluates the schedule in the named timezone, falling back to UTC.
func (s *CronSchedule) In(timezone string) *CronSchedule {
	if timezone == "" {
		return s
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return s
	}

	return &CronSchedule{spec: s.spec, location: loc}
}

func (s *CronSchedule) Next(from time.Time) time.Time {
	if s == nil || s.spec == nil {
		return time.Time{}
	}

	return s.spec.Next(from.In(s.location))
}
