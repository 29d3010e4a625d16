package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gkobilansky/form-goat/internal/allocation"
	"github.com/gkobilansky/form-goat/internal/experiment"
	"github.com/gkobilansky/form-goat/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// withService is withStore plus an experiment service built from cfg.
func withService(fn func(*experiment.Service, *store.SQLiteStore) error) error {
	return withStore(func(s *store.SQLiteStore) error {
		svc, err := newService(s)
		if err != nil {
			return err
		}
		return fn(svc, s)
	})
}

func newService(s store.Store) (*experiment.Service, error) {
	sampler, err := allocation.NewSampler(cfg.BanditSampler, nil, nil)
	if err != nil {
		return nil, err
	}
	return experiment.New(s,
		experiment.WithLogger(logger),
		experiment.WithSampler(sampler),
		experiment.WithAssignmentTTL(cfg.AssignmentTTL),
	), nil
}

func parseTestID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid test id %q", arg)
	}
	return id, nil
}

// loadTest returns a friendly error when the test does not exist.
func loadTest(ctx context.Context, svc *experiment.Service, id int64) (*store.Test, error) {
	test, err := svc.GetTest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	if test == nil {
		return nil, fmt.Errorf("test %d not found", id)
	}
	return test, nil
}
