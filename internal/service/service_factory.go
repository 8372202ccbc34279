package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Worker is a long running task owned by the factory, such as the ledger
// sweeper or the async event publisher.
type Worker interface {
	Run(ctx context.Context) error
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps    Dependencies
	workers []Worker
	logger  *zap.Logger

	once        sync.Once
	authService *AuthService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(deps Dependencies, workers ...Worker) *ServiceFactory {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceFactory{deps: deps, workers: workers, logger: logger}
}

// AuthService returns the auth service instance
func (f *ServiceFactory) AuthService() *AuthService {
	f.once.Do(func() {
		f.authService = NewAuthService(f.deps)
	})
	return f.authService
}

// RunWorkers runs every background worker until ctx is cancelled or one of
// them fails.
func (f *ServiceFactory) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range f.workers {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	f.logger.Info("Background workers started", zap.Int("count", len(f.workers)))
	return g.Wait()
}
