package service

import (
	"context"
	"errors"

	"github.com/sandeepkv93/session-security-engine/internal/geo"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
)

// AnomalyDetector compares a request's country with the user's last
// successful login.
type AnomalyDetector struct {
	resolver geo.Resolver
	events   repository.LoginEventRepository
}

func NewAnomalyDetector(resolver geo.Resolver, events repository.LoginEventRepository) *AnomalyDetector {
	if resolver == nil {
		resolver = geo.NoopResolver{}
	}
	return &AnomalyDetector{resolver: resolver, events: events}
}

func (d *AnomalyDetector) ResolveCountry(ip string) *string {
	return d.resolver.ResolveCountry(ip)
}

// LastSuccessfulCountry is nil when the user never logged in successfully or
// the country of that login was unknown.
func (d *AnomalyDetector) LastSuccessfulCountry(ctx context.Context, userID uint) (*string, error) {
	e, err := d.events.LastSuccessFor(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrLoginEventNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e.Country, nil
}
