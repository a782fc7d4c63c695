package composite

import (
	"context"
	"errors"
	"time"

	"arbwatch/internal/application/port"
	"arbwatch/internal/domain/model"
)

// Repo fans writes out to every backend and reads from the first one.
type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) Len() int { return len(r.repos) }

func (r *Repo) UpsertLatestQuote(ctx context.Context, q *model.PriceQuote) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.UpsertLatestQuote(ctx, q); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) SaveOpportunity(ctx context.Context, e model.FeedEntry) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.SaveOpportunity(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ListOpportunities asks backends in order and returns the first successful answer.
func (r *Repo) ListOpportunities(ctx context.Context, since time.Time, limit int) ([]model.Opportunity, error) {
	var errs []error
	for _, repo := range r.repos {
		opps, err := repo.ListOpportunities(ctx, since, limit)
		if err == nil {
			return opps, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func (r *Repo) Close() error {
	var errs []error
	for _, repo := range r.repos {
		errs = append(errs, repo.Close())
	}
	return errors.Join(errs...)
}

var _ port.Repository = (*Repo)(nil)
