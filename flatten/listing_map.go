package flatten

import (
	"time"

	"mls_sync/models"
)

// listingFromMap lifts the pipeline's typed fields out of the flattened map;
// whatever remains rides along in Extra.
func listingFromMap(flat map[string]interface{}) *models.Listing {
	l := &models.Listing{}

	l.Slug = popString(flat, "slug")
	l.SlugAddress = popString(flat, "slugAddress")
	l.ListingKey = popString(flat, "listingKey")
	l.ListingID = popString(flat, "listingId")
	l.MlsID = popString(flat, "mlsId")
	l.MlsSource = popString(flat, "mlsSource")
	l.StandardStatus = popString(flat, "standardStatus")
	l.StatusChangeTimestamp = popString(flat, "statusChangeTimestamp")
	l.ModificationTimestamp = popString(flat, "modificationTimestamp")
	l.PropertyType = popString(flat, "propertyType")
	l.PropertyTypeName = popString(flat, "propertyTypeName")
	l.PropertySubType = popString(flat, "propertySubType")
	l.UnparsedAddress = popString(flat, "unparsedAddress")
	l.City = popString(flat, "city")
	l.PostalCode = popString(flat, "postalCode")
	l.SubdivisionName = popString(flat, "subdivisionName")
	l.LandType = popString(flat, "landType")
	l.LandLeasePer = popString(flat, "landLeasePer")
	l.LandLeaseExpirationDate = popString(flat, "landLeaseExpirationDate")

	l.ListPrice = popFloat(flat, "listPrice")
	l.ClosePrice = popFloat(flat, "closePrice")
	l.Latitude = popFloat(flat, "latitude")
	l.Longitude = popFloat(flat, "longitude")
	l.LandLeaseAmount = popFloat(flat, "landLeaseAmount")
	l.LandLeaseYearsRemaining = popInt(flat, "landLeaseYearsRemaining")

	if gp, ok := flat["coordinates"].(*models.GeoPoint); ok {
		l.Coordinates = gp
		delete(flat, "coordinates")
	}
	if raw := popString(flat, "closeDate"); raw != "" {
		if t, ok := parseFeedDate(raw); ok {
			l.CloseDate = &t
		}
	}

	if len(flat) > 0 {
		l.Extra = flat
	}
	return l
}

// parseFeedDate handles the feed's two date shapes: full timestamps and
// bare dates.
func parseFeedDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func popString(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		delete(m, key)
		return s
	}
	return ""
}

func popFloat(m map[string]interface{}, key string) *float64 {
	if f, ok := toFloat(m[key]); ok {
		delete(m, key)
		return &f
	}
	return nil
}

func popInt(m map[string]interface{}, key string) *int {
	if f, ok := toFloat(m[key]); ok {
		delete(m, key)
		i := int(f)
		return &i
	}
	return nil
}
