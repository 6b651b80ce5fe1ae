package strava

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tracklink/server/pkg/models"
	"github.com/tracklink/server/pkg/provider"
)

// canonicalToStravaStream maps the engine's stream keys to Strava's.
var canonicalToStravaStream = map[string]string{
	"time":        "time",
	"distance":    "distance",
	"heart_rate":  "heartrate",
	"power":       "watts",
	"speed":       "velocity_smooth",
	"cadence":     "cadence",
	"altitude":    "altitude",
	"position":    "latlng",
	"temperature": "temp",
}

// stravaToCanonicalStream is the inverse table used when mapping
// responses back into canonical DTOs.
var stravaToCanonicalStream = map[string]string{
	"time":            "time",
	"distance":        "distance",
	"heartrate":       "heart_rate",
	"watts":           "power",
	"velocity_smooth": "speed",
	"cadence":         "cadence",
	"altitude":        "altitude",
	"latlng":          "position",
	"temp":            "temperature",
}

// canonicalStreamOrder fixes iteration order for the default request set.
var canonicalStreamOrder = []string{
	"time", "distance", "heart_rate", "power", "speed",
	"cadence", "altitude", "position", "temperature",
}

// sportTable collapses Strava sport types into the canonical set. Keys
// are lowercased with separators stripped, so "TrailRun", "trail_run"
// and "trailrun" all hit the same entry.
var sportTable = map[string]models.Sport{
	"run":        models.SportRun,
	"trailrun":   models.SportRun,
	"virtualrun": models.SportRun,

	"ride":              models.SportBike,
	"virtualride":       models.SportBike,
	"mountainbikeride":  models.SportBike,
	"gravelride":        models.SportBike,
	"ebikeride":         models.SportBike,
	"emountainbikeride": models.SportBike,
	"handcycle":         models.SportBike,
	"velomobile":        models.SportBike,

	"swim": models.SportSwim,

	"workout":                       models.SportGym,
	"weighttraining":                models.SportGym,
	"crossfit":                      models.SportGym,
	"hiit":                          models.SportGym,
	"highintensityintervaltraining": models.SportGym,
}

// NormalizeSport maps a provider sport string to the canonical Sport.
// Unrecognized values map to other, never to an error.
func NormalizeSport(raw string) models.Sport {
	key := strings.ToLower(raw)
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	if sport, ok := sportTable[key]; ok {
		return sport
	}
	return models.SportOther
}

// Mapper converts Strava payloads into canonical DTOs.
type Mapper struct {
	cfg provider.Config
}

func NewMapper(cfg provider.Config) *Mapper {
	return &Mapper{cfg: cfg}
}

// stravaActivity is the subset of a Strava activity payload the engine
// reads. Pointers distinguish absent from zero.
type stravaActivity struct {
	ID      *int64 `json:"id"`
	Athlete struct {
		ID *int64 `json:"id"`
	} `json:"athlete"`
	Name               string   `json:"name"`
	SportType          string   `json:"sport_type"`
	Type               string   `json:"type"`
	StartDate          string   `json:"start_date"`
	MovingTime         *int64   `json:"moving_time"`
	ElapsedTime        *int64   `json:"elapsed_time"`
	Distance           float64  `json:"distance"`
	TotalElevationGain float64  `json:"total_elevation_gain"`
}

// MapActivity converts one raw activity payload. An id, a start
// timestamp and a duration are required; duration falls back from
// moving_time to elapsed_time.
func (m *Mapper) MapActivity(raw json.RawMessage) (*provider.ExternalActivity, error) {
	var a stravaActivity
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, &provider.RequestError{Provider: m.cfg.Name, Message: "unexpected payload shape"}
	}

	if a.ID == nil {
		return nil, &provider.RequestError{Provider: m.cfg.Name, Message: "activity payload missing id"}
	}
	externalID := fmt.Sprintf("%d", *a.ID)

	if a.StartDate == "" {
		return nil, &provider.RequestError{
			Provider: m.cfg.Name,
			Message:  fmt.Sprintf("activity %s missing start_date", externalID),
		}
	}
	startedAt, err := time.Parse(time.RFC3339, a.StartDate)
	if err != nil {
		return nil, &provider.RequestError{
			Provider: m.cfg.Name,
			Message:  fmt.Sprintf("activity %s has malformed start_date %q", externalID, a.StartDate),
		}
	}

	duration := a.MovingTime
	if duration == nil {
		duration = a.ElapsedTime
	}
	if duration == nil {
		return nil, &provider.RequestError{
			Provider: m.cfg.Name,
			Message:  fmt.Sprintf("activity %s missing moving_time and elapsed_time", externalID),
		}
	}

	sportSource := a.SportType
	if sportSource == "" {
		sportSource = a.Type
	}

	mapped := &provider.ExternalActivity{
		ExternalID:          externalID,
		Sport:               NormalizeSport(sportSource),
		Name:                a.Name,
		StartedAt:           startedAt,
		DurationSeconds:     *duration,
		DistanceMeters:      a.Distance,
		ElevationGainMeters: a.TotalElevationGain,
		Raw:                 raw,
	}
	if a.Athlete.ID != nil {
		mapped.AthleteID = fmt.Sprintf("%d", *a.Athlete.ID)
	}
	return mapped, nil
}

// stravaStream is one channel in a key_by_type streams response.
type stravaStream struct {
	Data []interface{} `json:"data"`
}

// MapStreams converts a key_by_type streams payload. A stream is
// included only when its data array is non-empty; AvailableStreams
// reflects what was actually populated, not what was requested.
func (m *Mapper) MapStreams(externalID string, raw json.RawMessage) (*provider.ExternalActivityStreams, error) {
	var byType map[string]stravaStream
	if err := json.Unmarshal(raw, &byType); err != nil {
		return nil, &provider.RequestError{Provider: m.cfg.Name, Message: "unexpected payload shape"}
	}

	out := &provider.ExternalActivityStreams{
		ExternalID: externalID,
		Streams:    map[string][]interface{}{},
	}
	for _, canonical := range canonicalStreamOrder {
		stravaKey := canonicalToStravaStream[canonical]
		stream, ok := byType[stravaKey]
		if !ok || len(stream.Data) == 0 {
			continue
		}
		out.Streams[canonical] = stream.Data
		out.AvailableStreams = append(out.AvailableStreams, canonical)
	}
	return out, nil
}
