package health

import (
	"context"
	"errors"

	"github.com/clinvox/clinvox/internal/store"
	"github.com/clinvox/clinvox/pkg/provider/s2s"
)

// StoreChecker reports ready when the site store can serve the active study.
// This covers both backends: the in-memory store answers from its seed data
// and the Postgres store round-trips a query.
func StoreChecker(s store.StudyProvider) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if s == nil {
				return errors.New("no store configured")
			}
			_, err := s.ActiveStudy(ctx)
			return err
		},
	}
}

// ProviderChecker reports ready when an S2S provider is configured and
// advertises at least one voice.
func ProviderChecker(p s2s.Provider) Checker {
	return Checker{
		Name: "provider",
		Check: func(_ context.Context) error {
			if p == nil {
				return errors.New("no provider configured")
			}
			if len(p.Capabilities().Voices) == 0 {
				return errors.New("provider advertises no voices")
			}
			return nil
		},
	}
}
