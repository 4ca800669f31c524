package gateway

import (
	"fmt"

	"go.uber.org/zap"

	"execution-core/pkg/venue"
	"execution-core/pkg/venue/paper"
	"execution-core/pkg/venue/rest"
)

// Factory opens a venue session for an account under a client ID.
type Factory func(account string, clientID int) (venue.Venue, error)

// RESTFactory opens bridge sessions against baseURL.
func RESTFactory(baseURL string, log *zap.Logger) Factory {
	return func(account string, clientID int) (venue.Venue, error) {
		if baseURL == "" {
			return nil, fmt.Errorf("venue url not configured")
		}
		return rest.New(baseURL, clientID, log), nil
	}
}

// PaperFactory shares one simulated venue between all sessions.
func PaperFactory(v *paper.Venue) Factory {
	return func(account string, clientID int) (venue.Venue, error) {
		v.SetClientID(clientID)
		return v, nil
	}
}
