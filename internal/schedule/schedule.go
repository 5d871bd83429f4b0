// Package schedule triggers unattended dispatch passes on a cron spec.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	logx "wablast/pkg/logx"
)

// Starter kicks off one dispatch pass; precondition errors (session down,
// empty roster, pass already active) are returned synchronously.
type Starter interface {
	Start() error
}

type Config struct {
	// Spec is a cron expression; both 5-field and 6-field (with seconds)
	// forms are accepted.
	Spec     string
	Timezone string
}

type Service struct {
	cfg     Config
	log     logx.Logger
	starter Starter

	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, starter Starter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		starter: starter,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Validate checks the spec and timezone without starting anything.
func (s *Service) Validate() error {
	if _, err := s.parser.Parse(s.cfg.Spec); err != nil {
		return fmt.Errorf("schedule: invalid spec %q: %w", s.cfg.Spec, err)
	}
	if _, err := s.location(); err != nil {
		return err
	}
	return nil
}

func (s *Service) location() (*time.Location, error) {
	if s.cfg.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid timezone %q: %w", s.cfg.Timezone, err)
	}
	return loc, nil
}

// Run schedules passes until ctx is canceled. A tick that cannot start a
// pass (session down, roster empty, pass active) is logged and skipped;
// the schedule keeps going.
func (s *Service) Run(ctx context.Context) error {
	loc, err := s.location()
	if err != nil {
		return err
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	_, err = s.c.AddFunc(s.cfg.Spec, func() {
		if err := s.starter.Start(); err != nil {
			s.log.Warn("scheduled pass skipped", logx.Err(err))
			return
		}
		s.log.Info("scheduled pass started", logx.String("spec", s.cfg.Spec))
	})
	if err != nil {
		return fmt.Errorf("schedule: invalid spec %q: %w", s.cfg.Spec, err)
	}

	s.c.Start()
	<-ctx.Done()

	stopCtx := s.c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
	return nil
}
