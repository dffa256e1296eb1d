package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Metadata dumps the metadata table as a JSON array of [name, value] pairs,
// in storage order.
func (s *TileService) Metadata(ctx context.Context) (Response, error) {
	entries, err := s.store.Metadata(ctx)
	if err != nil {
		s.recorder.RecordTileLookup(OutcomeError)
		return Response{}, fmt.Errorf("metadata: %w", err)
	}

	if len(entries) == 0 {
		s.recorder.RecordTileLookup(OutcomeNoMetadata)
		return textResponse(http.StatusNotFound, "%q not found in configured .mbtiles file!", "metadata"), nil
	}

	body, err := json.Marshal(entries)
	if err != nil {
		return Response{}, fmt.Errorf("encode metadata: %w", err)
	}

	s.recorder.RecordTileLookup(OutcomeMetadata)
	return Response{
		Status:      http.StatusOK,
		ContentType: JSONContentType,
		Body:        body,
	}, nil
}
