package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hanko-field/fulfillment/internal/domain"
)

func TestDependencyHealthRepositoryRejectsBadChecks(t *testing.T) {
	ok := func(context.Context) error { return nil }
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"no name":   {{Name: " ", Check: ok}},
		"no func":   {{Name: "firestore"}},
		"duplicate": {{Name: "firestore", Check: ok}, {Name: "firestore", Check: ok}},
	}
	for name, checks := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewDependencyHealthRepository(checks); err == nil {
				t.Fatalf("expected constructor error")
			}
		})
	}
}

func TestDependencyHealthRepositoryCollect(t *testing.T) {
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return errors.New("topic missing") }},
	}, WithProbeClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded || report.GeneratedAt != now {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := report.Checks["firestore"]; got.Status != domain.HealthStatusOK || got.CheckedAt != now {
		t.Fatalf("unexpected firestore check %+v", got)
	}
	if got := report.Checks["pubsub"]; got.Status != domain.HealthStatusDegraded || got.Error != "topic missing" {
		t.Fatalf("unexpected pubsub check %+v", got)
	}
}

func TestDependencyHealthRepositoryTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{{
		Name: "secrets",
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}}, WithProbeTimeout(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError || report.Checks["secrets"].Detail != "timeout" {
		t.Fatalf("expected timeout error, got %+v", report)
	}
}
