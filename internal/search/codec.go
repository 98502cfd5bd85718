package search

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/sonichunter/internal/catalog"
)

// ErrMalformedPayload is returned by [DecodePayload] for any cached value
// that is not a well-formed, current-version result document.
var ErrMalformedPayload = errors.New("malformed cache payload")

// payloadVersion is bumped whenever the document shape changes; older
// entries then decode as malformed and are refreshed on the next miss.
const payloadVersion = 1

type payload struct {
	V      int           `json:"v"`
	Limit  int           `json:"limit"`
	Tracks []cachedTrack `json:"tracks"`
}

type cachedTrack struct {
	ID       int64  `json:"id"`
	Ref      string `json:"ref"`
	Artist   string `json:"artist"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
}

// EncodePayload renders tracks fetched with limit as a cache document.
func EncodePayload(limit int, tracks []catalog.Track) ([]byte, error) {
	p := payload{V: payloadVersion, Limit: limit, Tracks: make([]cachedTrack, len(tracks))}
	for i, t := range tracks {
		p.Tracks[i] = cachedTrack{
			ID:       t.ID,
			Ref:      t.ResolvedRef,
			Artist:   t.Artist,
			Title:    t.Title,
			Duration: t.DurationSeconds,
		}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("search: encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload parses a cache document produced by [EncodePayload]. Unknown
// fields, trailing data, a different version, a missing track list, empty
// references and negative numbers are all rejected with
// [ErrMalformedPayload]. The input is only ever parsed as data.
func DecodePayload(b []byte) (limit int, tracks []catalog.Track, err error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var p payload
	if err := dec.Decode(&p); err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return 0, nil, fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}
	if p.V != payloadVersion {
		return 0, nil, fmt.Errorf("%w: version %d", ErrMalformedPayload, p.V)
	}
	if p.Limit < 1 {
		return 0, nil, fmt.Errorf("%w: limit %d", ErrMalformedPayload, p.Limit)
	}
	if p.Tracks == nil {
		return 0, nil, fmt.Errorf("%w: missing tracks", ErrMalformedPayload)
	}
	if len(p.Tracks) > p.Limit {
		return 0, nil, fmt.Errorf("%w: %d tracks exceed limit %d", ErrMalformedPayload, len(p.Tracks), p.Limit)
	}

	tracks = make([]catalog.Track, len(p.Tracks))
	for i, ct := range p.Tracks {
		if ct.Ref == "" {
			return 0, nil, fmt.Errorf("%w: track %d has empty ref", ErrMalformedPayload, i)
		}
		if ct.ID < 0 || ct.Duration < 0 {
			return 0, nil, fmt.Errorf("%w: track %d has negative field", ErrMalformedPayload, i)
		}
		tracks[i] = catalog.Track{
			ID:              ct.ID,
			ResolvedRef:     ct.Ref,
			Artist:          ct.Artist,
			Title:           ct.Title,
			DurationSeconds: ct.Duration,
		}
	}
	return p.Limit, tracks, nil
}
