package service

import (
	"context"
	"errors"

	"github.com/htol/bookcat/book"
	"github.com/htol/bookcat/repo"
	"golang.org/x/sync/errgroup"
)

// Summary is a read-only snapshot of the catalog
type Summary struct {
	Total                int64             `json:"total"`
	Genres               []book.GroupCount `json:"genres"`
	AveragePublishedYear *float64          `json:"averagePublishedYear,omitempty"`
	TopRated             *book.Book        `json:"topRated,omitempty"`
}

// Summary runs the independent read queries concurrently. An empty catalog
// yields a zero Summary without an average or top-rated record.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	var sum Summary

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := s.Count(ctx)
		sum.Total = n
		return err
	})

	g.Go(func() error {
		groups, err := s.CountByGenre(ctx)
		sum.Genres = groups
		return err
	})

	g.Go(func() error {
		avg, err := s.AveragePublishedYear(ctx)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		sum.AveragePublishedYear = &avg
		return nil
	})

	g.Go(func() error {
		top, err := s.TopRated(ctx, 1)
		if err != nil {
			return err
		}
		if len(top) > 0 && top[0].Rating != nil {
			sum.TopRated = &top[0]
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &sum, nil
}
