package station

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stwalsh4118/airwave/internal/streaming"
)

// Lookup resolves a station ID for the stream manager
func (s *Service) Lookup(ctx context.Context, stationID string) (streaming.StationConfig, error) {
	id, err := uuid.Parse(stationID)
	if err != nil {
		return streaming.StationConfig{}, fmt.Errorf("invalid station id %q: %w", stationID, streaming.ErrUnknownStation)
	}

	st, err := s.GetByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return streaming.StationConfig{}, fmt.Errorf("%w: %s", streaming.ErrUnknownStation, stationID)
		}
		return streaming.StationConfig{}, err
	}

	return streaming.StationConfig{
		ID:                st.ID.String(),
		Source:            s.Source(st),
		ExternalPlayerURL: st.ExternalPlayerURL,
	}, nil
}
