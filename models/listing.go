package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Listing statuses as reported by the replication feed, plus the local
// OffMarket marker applied when a record disappears from the feed.
const (
	StatusActive     = "Active"
	StatusPending    = "Pending"
	StatusHold       = "Hold"
	StatusComingSoon = "Coming Soon"
	StatusClosed     = "Closed"
	StatusOffMarket  = "OffMarket"
)

// LiveStatuses are the statuses worth re-checking against the feed.
var LiveStatuses = []string{StatusActive, StatusPending, StatusHold, StatusComingSoon}

// GeoPoint is a GeoJSON point, longitude first.
type GeoPoint struct {
	Type        string    `bson:"type" json:"type"`
	Coordinates []float64 `bson:"coordinates" json:"coordinates"`
}

func NewGeoPoint(lng, lat float64) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: []float64{lng, lat}}
}

// Listing is a normalized listing document. Fields the pipeline reads or
// indexes are typed; everything else the feed sends survives in Extra, which
// is stored inline so the Mongo document stays flat.
type Listing struct {
	Slug                    string     `bson:"slug" json:"slug"`
	SlugAddress             string     `bson:"slugAddress,omitempty" json:"slugAddress,omitempty"`
	ListingKey              string     `bson:"listingKey" json:"listingKey"`
	ListingID               string     `bson:"listingId,omitempty" json:"listingId,omitempty"`
	MlsID                   string     `bson:"mlsId,omitempty" json:"mlsId,omitempty"`
	MlsSource               string     `bson:"mlsSource,omitempty" json:"mlsSource,omitempty"`
	StandardStatus          string     `bson:"standardStatus,omitempty" json:"standardStatus,omitempty"`
	StatusChangeTimestamp   string     `bson:"statusChangeTimestamp,omitempty" json:"statusChangeTimestamp,omitempty"`
	StatusLastChecked       *time.Time `bson:"statusLastChecked,omitempty" json:"statusLastChecked,omitempty"`
	ModificationTimestamp   string     `bson:"modificationTimestamp,omitempty" json:"modificationTimestamp,omitempty"`
	PropertyType            string     `bson:"propertyType,omitempty" json:"propertyType,omitempty"`
	PropertyTypeName        string     `bson:"propertyTypeName,omitempty" json:"propertyTypeName,omitempty"`
	PropertySubType         string     `bson:"propertySubType,omitempty" json:"propertySubType,omitempty"`
	ListPrice               *float64   `bson:"listPrice,omitempty" json:"listPrice,omitempty"`
	ClosePrice              *float64   `bson:"closePrice,omitempty" json:"closePrice,omitempty"`
	CloseDate               *time.Time `bson:"closeDate,omitempty" json:"closeDate,omitempty"`
	UnparsedAddress         string     `bson:"unparsedAddress,omitempty" json:"unparsedAddress,omitempty"`
	City                    string     `bson:"city,omitempty" json:"city,omitempty"`
	PostalCode              string     `bson:"postalCode,omitempty" json:"postalCode,omitempty"`
	SubdivisionName         string     `bson:"subdivisionName,omitempty" json:"subdivisionName,omitempty"`
	Latitude                *float64   `bson:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude               *float64   `bson:"longitude,omitempty" json:"longitude,omitempty"`
	Coordinates             *GeoPoint  `bson:"coordinates,omitempty" json:"coordinates,omitempty"`
	LandType                string     `bson:"landType,omitempty" json:"landType,omitempty"`
	LandLeaseAmount         *float64   `bson:"landLeaseAmount,omitempty" json:"landLeaseAmount,omitempty"`
	LandLeasePer            string     `bson:"landLeasePer,omitempty" json:"landLeasePer,omitempty"`
	LandLeaseExpirationDate string     `bson:"landLeaseExpirationDate,omitempty" json:"landLeaseExpirationDate,omitempty"`
	LandLeaseYearsRemaining *int       `bson:"landLeaseYearsRemaining,omitempty" json:"landLeaseYearsRemaining,omitempty"`

	Extra map[string]interface{} `bson:",inline" json:"-"`
}

// ListingRef is the projection used when walking a collection without
// loading full documents.
type ListingRef struct {
	ListingKey            string `bson:"listingKey" json:"listingKey"`
	ListingID             string `bson:"listingId,omitempty" json:"listingId,omitempty"`
	Slug                  string `bson:"slug,omitempty" json:"slug,omitempty"`
	MlsID                 string `bson:"mlsId,omitempty" json:"mlsId,omitempty"`
	MlsSource             string `bson:"mlsSource,omitempty" json:"mlsSource,omitempty"`
	StandardStatus        string `bson:"standardStatus,omitempty" json:"standardStatus,omitempty"`
	StatusChangeTimestamp string `bson:"statusChangeTimestamp,omitempty" json:"statusChangeTimestamp,omitempty"`
}

// listingJSONKeys holds the json names of every typed field, so Unmarshal can
// tell typed fields apart from Extra keys.
var listingJSONKeys = func() map[string]bool {
	keys := make(map[string]bool)
	t := reflect.TypeOf(Listing{})
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name := strings.Split(tag, ",")[0]
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}()

type listingAlias Listing

// MarshalJSON flattens Extra into the top-level object alongside the typed
// fields. Typed fields win on key collisions.
func (l Listing) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(listingAlias(l))
	if err != nil {
		return nil, err
	}
	if len(l.Extra) == 0 {
		return base, nil
	}
	var merged map[string]interface{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range l.Extra {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON routes unknown top-level keys into Extra.
func (l *Listing) UnmarshalJSON(data []byte) error {
	var a listingAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if listingJSONKeys[k] {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		a.Extra = raw
	}
	*l = Listing(a)
	return nil
}
