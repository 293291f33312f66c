package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestListingJSONRoundTrip(t *testing.T) {
	price := 750000.0
	closeDate := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	in := Listing{
		Slug:           "20230711123456789012000000",
		ListingKey:     "20230711123456789012000000",
		MlsSource:      "GPS",
		StandardStatus: "Active",
		ListPrice:      &price,
		CloseDate:      &closeDate,
		Coordinates:    NewGeoPoint(-116.5453, 33.8303),
		Extra: map[string]interface{}{
			"yearBuilt":        float64(1962),
			"interiorFeatures": "HighCeilings, Skylights",
		},
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// Extra fields must appear at the top level, not nested.
	var flat map[string]interface{}
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("Unmarshal to map: %v", err)
	}
	if flat["yearBuilt"] != float64(1962) {
		t.Errorf("yearBuilt = %v, want inline at top level", flat["yearBuilt"])
	}
	if _, nested := flat["Extra"]; nested {
		t.Error("Extra leaked as its own key")
	}

	var out Listing
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.ListingKey != in.ListingKey || out.MlsSource != "GPS" {
		t.Errorf("typed fields lost: %+v", out)
	}
	if out.ListPrice == nil || *out.ListPrice != price {
		t.Errorf("listPrice = %v", out.ListPrice)
	}
	if out.CloseDate == nil || !out.CloseDate.Equal(closeDate) {
		t.Errorf("closeDate = %v", out.CloseDate)
	}
	if out.Extra["yearBuilt"] != float64(1962) {
		t.Errorf("Extra lost: %v", out.Extra)
	}
	if _, leaked := out.Extra["listingKey"]; leaked {
		t.Error("typed field duplicated into Extra")
	}
	if out.Coordinates == nil || out.Coordinates.Coordinates[0] != -116.5453 {
		t.Errorf("coordinates = %+v", out.Coordinates)
	}
}

func TestListingTypedFieldsWinOverExtra(t *testing.T) {
	in := Listing{
		Slug:       "s1",
		ListingKey: "k1",
		Extra:      map[string]interface{}{"listingKey": "shadow"},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var flat map[string]interface{}
	json.Unmarshal(data, &flat)
	if flat["listingKey"] != "k1" {
		t.Errorf("listingKey = %v, typed field should win", flat["listingKey"])
	}
}
