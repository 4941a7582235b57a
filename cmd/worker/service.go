package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

var errConsumerExited = errors.New("consumer exited without error")

type pinger interface {
	Ping(ctx context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger    *logger.Logger
	DB        pinger
	Redis     pinger
	PubSub    pinger
	Consumers []runner
}

// Service checks its dependencies once, then runs every consumer. The first
// consumer to return stops the rest.
type Service struct {
	logg      *logger.Logger
	deps      map[string]pinger
	order     []string
	consumers []runner
}

func NewService(params ServiceParams) (*Service, error) {
	var errs error
	if params.Logger == nil {
		errs = multierr.Append(errs, errors.New("logger is required"))
	}
	deps := map[string]pinger{"database": params.DB, "redis": params.Redis, "pubsub": params.PubSub}
	order := []string{"database", "redis", "pubsub"}
	for _, name := range order {
		if deps[name] == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s client is required", name))
		}
	}
	if len(params.Consumers) == 0 {
		errs = multierr.Append(errs, errors.New("at least one consumer is required"))
	}
	if errs != nil {
		return nil, errs
	}
	return &Service{logg: params.Logger, deps: deps, order: order, consumers: params.Consumers}, nil
}

func (s *Service) ready(ctx context.Context) error {
	for _, name := range s.order {
		if err := s.deps[name].Ping(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", name), "worker.dependency_unreachable", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, consumer := range s.consumers {
		group.Go(func() error {
			if err := consumer.Run(groupCtx); err != nil {
				return err
			}
			// a consumer must only return once canceled
			if groupCtx.Err() == nil {
				return errConsumerExited
			}
			return nil
		})
	}
	err := group.Wait()
	if err == nil || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		return ctx.Err()
	}
	return err
}
