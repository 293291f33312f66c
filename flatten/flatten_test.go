package flatten

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testSources = map[string]string{
	"20190211172710340762000000": "GPS",
	"20200218121507636729000000": "CRMLS",
}

func loadFixture(t *testing.T, name string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("reading fixture %s: %v", name, err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("parsing fixture %s: %v", name, err)
	}
	return raw
}

func newTestFlattener() *Flattener {
	f := New(testSources, "")
	f.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return f
}

func TestFlattenFixture(t *testing.T) {
	f := newTestFlattener()
	l := f.Flatten(loadFixture(t, "raw_listing.json"))
	if l == nil {
		t.Fatal("expected a listing, got nil")
	}

	if l.ListingKey != "20230711123456789012000000" {
		t.Errorf("listingKey = %q", l.ListingKey)
	}
	if l.Slug != l.ListingKey {
		t.Errorf("slug = %q, want listingKey", l.Slug)
	}
	if l.MlsSource != "GPS" {
		t.Errorf("mlsSource = %q, want GPS", l.MlsSource)
	}
	if l.PropertyTypeName != "Residential" {
		t.Errorf("propertyTypeName = %q, want Residential", l.PropertyTypeName)
	}
	if l.SlugAddress != "742-evergreen-terrace-palm-springs-ca-92262" {
		t.Errorf("slugAddress = %q", l.SlugAddress)
	}
	if l.ListPrice == nil || *l.ListPrice != 749000 {
		t.Errorf("listPrice = %v, want 749000", l.ListPrice)
	}

	if l.Coordinates == nil {
		t.Fatal("expected coordinates")
	}
	if l.Coordinates.Type != "Point" || l.Coordinates.Coordinates[0] != -116.5453 || l.Coordinates.Coordinates[1] != 33.8303 {
		t.Errorf("coordinates = %+v, want Point [lng lat]", l.Coordinates)
	}

	if l.LandType != "Lease" {
		t.Errorf("landType = %q, want Lease", l.LandType)
	}
	if l.LandLeaseExpirationDate != "2067-01-01" {
		t.Errorf("landLeaseExpirationDate = %q", l.LandLeaseExpirationDate)
	}
	if l.LandLeaseYearsRemaining == nil || *l.LandLeaseYearsRemaining != 43 {
		t.Errorf("landLeaseYearsRemaining = %v, want 43", l.LandLeaseYearsRemaining)
	}
	if l.LandLeaseAmount == nil || *l.LandLeaseAmount != 5200 {
		t.Errorf("landLeaseAmount = %v, want 5200", l.LandLeaseAmount)
	}
	if l.LandLeasePer != "Annually" {
		t.Errorf("landLeasePer = %q, want Annually", l.LandLeasePer)
	}
}

func TestFlattenExtraFields(t *testing.T) {
	f := newTestFlattener()
	l := f.Flatten(loadFixture(t, "raw_listing.json"))
	if l == nil {
		t.Fatal("expected a listing, got nil")
	}

	if got := l.Extra["yearBuilt"]; got != float64(1962) {
		t.Errorf("yearBuilt = %v, want 1962", got)
	}
	if got := l.Extra["interiorFeatures"]; got != "HighCeilings, Skylights" {
		t.Errorf("interiorFeatures = %v, want collapsed bool list", got)
	}
	for _, dropped := range []string{"bathsTotal", "roomsTotal", "appliances"} {
		if _, ok := l.Extra[dropped]; ok {
			t.Errorf("%s should have been dropped", dropped)
		}
	}
	if got, ok := l.Extra["publicRemarks"]; !ok || got != "" {
		t.Errorf("publicRemarks = %v (present %v), want empty string kept", got, ok)
	}
	for k := range l.Extra {
		if k[0] >= 'A' && k[0] <= 'Z' {
			t.Errorf("PascalCase key leaked: %q", k)
		}
	}
}

func TestFlattenMissingListingKey(t *testing.T) {
	f := newTestFlattener()
	raw := map[string]interface{}{
		"StandardFields": map[string]interface{}{"City": "Palm Springs"},
	}
	if got := f.Flatten(raw); got != nil {
		t.Fatalf("expected nil for record without listing key, got %+v", got)
	}
}

func TestFlattenUnknownSourceAndPropertyType(t *testing.T) {
	f := newTestFlattener()
	raw := map[string]interface{}{
		"StandardFields": map[string]interface{}{
			"ListingKey":   "k1",
			"MlsId":        "99999999999999999999999999",
			"PropertyType": "Z",
		},
	}
	l := f.Flatten(raw)
	if l.MlsSource != UnknownSource {
		t.Errorf("mlsSource = %q, want %q", l.MlsSource, UnknownSource)
	}
	if l.PropertyTypeName != "Z" {
		t.Errorf("propertyTypeName = %q, want raw code passthrough", l.PropertyTypeName)
	}
	if l.SlugAddress != "unknown" {
		t.Errorf("slugAddress = %q, want fallback for missing address", l.SlugAddress)
	}
}

func TestFlattenDefaultSource(t *testing.T) {
	f := New(testSources, "GPS")
	raw := map[string]interface{}{
		"StandardFields": map[string]interface{}{"ListingKey": "k1"},
	}
	if l := f.Flatten(raw); l.MlsSource != "GPS" {
		t.Errorf("mlsSource = %q, want configured default", l.MlsSource)
	}
}

func TestParseLeaseExpiration(t *testing.T) {
	cases := []struct {
		name     string
		input    interface{}
		wantDate string
		wantYear int
		wantOK   bool
	}{
		{"clean date", "2067-01-01", "2067-01-01", 2067, true},
		{"malformed date", "11302069-01-01", "2069-12-31", 2069, true},
		{"bare year string", "2067", "2067-12-31", 2067, true},
		{"numeric year", float64(2067), "2067-12-31", 2067, true},
		{"absent", nil, "", 0, false},
		{"garbage", "expires someday", "", 0, false},
		{"implausible number", float64(123), "", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			date, year, ok := parseLeaseExpiration(tc.input)
			if ok != tc.wantOK || date != tc.wantDate || year != tc.wantYear {
				t.Errorf("parseLeaseExpiration(%v) = (%q, %d, %v), want (%q, %d, %v)",
					tc.input, date, year, ok, tc.wantDate, tc.wantYear, tc.wantOK)
			}
		})
	}
}

func TestLeaseYearsRemainingNeverNonPositive(t *testing.T) {
	f := newTestFlattener() // now = 2024
	raw := map[string]interface{}{
		"StandardFields": map[string]interface{}{
			"ListingKey":              "k1",
			"LandLeaseExpirationDate": "2020-06-30",
		},
	}
	l := f.Flatten(raw)
	if l.LandLeaseExpirationDate != "2020-06-30" {
		t.Errorf("landLeaseExpirationDate = %q", l.LandLeaseExpirationDate)
	}
	if l.LandLeaseYearsRemaining != nil {
		t.Errorf("expired lease should have no yearsRemaining, got %d", *l.LandLeaseYearsRemaining)
	}
}

func TestLandTypeFallThrough(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]interface{}
		want   string
	}{
		{"type names lease", map[string]interface{}{"LandLeaseType": "Land Lease"}, "Lease"},
		{"type names fee over yn", map[string]interface{}{"LandLeaseType": "Fee Simple", "LandLeaseYN": true}, "Fee"},
		{"inconclusive type defers to yn", map[string]interface{}{"LandLeaseType": "Cal-Vet", "LandLeaseYN": true}, "Lease"},
		{"inconclusive type defers to ownership", map[string]interface{}{"LandLeaseType": "Cal-Vet", "OwnershipType": "Leasehold"}, "Lease"},
		{"yn false", map[string]interface{}{"LandLeaseYN": false}, "Fee"},
		{"ownership without lease", map[string]interface{}{"OwnershipType": "Condominium"}, "Fee"},
		{"nothing set", map[string]interface{}{}, "Fee"},
	}
	f := newTestFlattener()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			std := map[string]interface{}{"ListingKey": "k1"}
			for k, v := range tc.fields {
				std[k] = v
			}
			l := f.Flatten(map[string]interface{}{"StandardFields": std})
			if l.LandType != tc.want {
				t.Errorf("landType = %q, want %q", l.LandType, tc.want)
			}
		})
	}
}

func TestToCamelCase(t *testing.T) {
	cases := map[string]string{
		"ListPrice":             "listPrice",
		"StandardStatus":        "standardStatus",
		"UnparsedAddress":       "unparsedAddress",
		"YearBuilt":             "yearBuilt",
		"City":                  "city",
		"alreadyCamel":          "alreadyCamel",
		"StatusChangeTimestamp": "statusChangeTimestamp",
	}
	for in, want := range cases {
		if got := toCamelCase(in); got != want {
			t.Errorf("toCamelCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"742 Évergreen Terrace, Palm Springs, CA 92262": "742-evergreen-terrace-palm-springs-ca-92262",
		"  123   Main St.  ":                            "123-main-st",
		"Ünïcödé Àvenue":                                "unicode-avenue",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
