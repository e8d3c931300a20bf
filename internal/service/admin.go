package service

import (
	"context"
	"fmt"

	"github.com/openclapp/openclapp/pkg/schema"
	"github.com/sirupsen/logrus"
)

// WipeAgents deletes every agent with its events and challenges.
func (s *Service) WipeAgents(ctx context.Context, confirm string) (*schema.WipeResponse, error) {
	return s.wipeAgents(ctx, confirm, schema.ConfirmWipeAgents, false)
}

// WipeUnverifiedAgents deletes unverified agents with their events and
// challenges.
func (s *Service) WipeUnverifiedAgents(ctx context.Context, confirm string) (*schema.WipeResponse, error) {
	return s.wipeAgents(ctx, confirm, schema.ConfirmWipeUnverifiedAgents, true)
}

func (s *Service) wipeAgents(ctx context.Context, confirm, phrase string, unverifiedOnly bool) (*schema.WipeResponse, error) {
	if err := checkConfirm(confirm, phrase); err != nil {
		return nil, err
	}
	res, err := s.store.DeleteAgents(ctx, unverifiedOnly)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"unverified_only": unverifiedOnly,
		"agents":          res.Agents,
		"events":          res.Events,
		"challenges":      res.Challenges,
	}).Warn("agents wiped")
	return &schema.WipeResponse{
		DeletedAgents:     res.Agents,
		DeletedEvents:     res.Events,
		DeletedChallenges: res.Challenges,
	}, nil
}

// WipeEvents clears the ticker. Agents keep their accumulated clap time.
func (s *Service) WipeEvents(ctx context.Context, confirm string) (*schema.WipeResponse, error) {
	if err := checkConfirm(confirm, schema.ConfirmWipeEvents); err != nil {
		return nil, err
	}
	n, err := s.store.DeleteEvents(ctx)
	if err != nil {
		return nil, err
	}
	s.log.WithField("events", n).Warn("events wiped")
	return &schema.WipeResponse{DeletedEvents: n}, nil
}

func checkConfirm(got, want string) error {
	if got != want {
		return invalid("confirm", fmt.Sprintf("confirm must be exactly %q", want))
	}
	return nil
}
