package flatten

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"mls_sync/models"
)

// maskedValue is the feed's redaction sentinel for fields the account is not
// licensed to see.
const maskedValue = "********"

// UnknownSource tags records whose MlsId is not in the association table.
const UnknownSource = "UNKNOWN"

// propertyTypeNames maps the feed's single-letter property type codes to
// display names. Unmapped codes pass through as-is.
var propertyTypeNames = map[string]string{
	"A": "Residential",
	"B": "Residential Lease",
	"C": "Residential Income",
	"D": "Land",
	"E": "Commercial Sale",
	"F": "Commercial Lease",
	"G": "Business Opportunity",
	"H": "Manufactured In Park",
	"I": "Mobile Home",
}

// Flattener turns raw replication records into normalized listings. It is
// pure: no I/O, no mutation of its input.
type Flattener struct {
	sourceNames   map[string]string // MlsId -> association short name
	defaultSource string
	now           func() time.Time
}

func New(sourceNames map[string]string, defaultSource string) *Flattener {
	return &Flattener{
		sourceNames:   sourceNames,
		defaultSource: defaultSource,
		now:           time.Now,
	}
}

// Flatten normalizes one raw record. Returns nil when the record has no
// listing key and cannot be stored.
func (f *Flattener) Flatten(raw map[string]interface{}) *models.Listing {
	std, _ := raw["StandardFields"].(map[string]interface{})
	if std == nil {
		std = raw
	}
	key, _ := std["ListingKey"].(string)
	if key == "" {
		return nil
	}

	flat, _ := camelize(std).(map[string]interface{})
	if flat == nil {
		flat = map[string]interface{}{}
	}

	// Expansions and envelope fields ride alongside StandardFields; carry
	// them over without clobbering anything the standard block already set.
	for k, v := range raw {
		if k == "StandardFields" {
			continue
		}
		ck := toCamelCase(k)
		if _, taken := flat[ck]; taken {
			continue
		}
		if cv := camelize(v); cv != nil {
			flat[ck] = cv
		}
	}

	flat["listingKey"] = key
	f.deriveSource(std, flat)
	derivePropertyType(std, flat)
	f.deriveLandLease(std, flat)
	deriveCoordinates(std, flat)

	flat["slugAddress"] = "unknown"
	if addr, _ := std["UnparsedAddress"].(string); addr != "" {
		if sa := slugify(addr); sa != "" {
			flat["slugAddress"] = sa
		}
	}
	if slug, _ := raw["slug"].(string); slug != "" {
		flat["slug"] = slug
	} else {
		flat["slug"] = key
	}

	return listingFromMap(flat)
}

func (f *Flattener) deriveSource(std, flat map[string]interface{}) {
	mlsID, _ := std["MlsId"].(string)
	source := f.sourceNames[mlsID]
	if source == "" {
		source = f.defaultSource
	}
	if source == "" {
		source = UnknownSource
	}
	flat["mlsSource"] = source
	if mlsID != "" {
		flat["mlsId"] = mlsID
	}
}

func derivePropertyType(std, flat map[string]interface{}) {
	code, _ := std["PropertyType"].(string)
	if code == "" || code == maskedValue {
		return
	}
	name, ok := propertyTypeNames[code]
	if !ok {
		name = code
	}
	flat["propertyType"] = code
	flat["propertyTypeName"] = name
}

// deriveLandLease classifies the listing's land tenure and normalizes the
// lease expiration, which arrives in wildly inconsistent shapes.
func (f *Flattener) deriveLandLease(std, flat map[string]interface{}) {
	// Each signal may be inconclusive: a LandLeaseType naming neither
	// tenure falls through to LandLeaseYN, then OwnershipType.
	landType := ""
	if lt := strings.ToLower(cleanString(std["LandLeaseType"])); lt != "" {
		switch {
		case strings.Contains(lt, "lease"):
			landType = "Lease"
		case strings.Contains(lt, "fee"):
			landType = "Fee"
		}
	}
	if landType == "" {
		if yn, ok := std["LandLeaseYN"].(bool); ok {
			landType = "Fee"
			if yn {
				landType = "Lease"
			}
		}
	}
	if landType == "" {
		if ot := strings.ToLower(cleanString(std["OwnershipType"])); ot != "" {
			landType = "Fee"
			if strings.Contains(ot, "lease") {
				landType = "Lease"
			}
		}
	}
	if landType == "" {
		landType = "Fee"
	}
	flat["landType"] = landType

	if amt, ok := toFloat(std["LandLeaseAmount"]); ok && amt > 0 {
		flat["landLeaseAmount"] = amt
		if per := cleanString(std["LandLeaseAmountFrequency"]); per != "" {
			flat["landLeasePer"] = per
		}
	}

	var rawExp interface{}
	for _, field := range []string{"LandLeaseExpirationDate", "LeaseExpirationDate", "LandLeaseExpirationYear"} {
		if v := std[field]; cleanString(v) != "" || hasNumber(v) {
			rawExp = v
			break
		}
	}
	date, year, ok := parseLeaseExpiration(rawExp)
	if !ok {
		return
	}
	flat["landLeaseExpirationDate"] = date
	if remaining := year - f.now().Year(); remaining > 0 {
		flat["landLeaseYearsRemaining"] = remaining
	}
}

var (
	cleanDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	yearRe      = regexp.MustCompile(`(18|19|20|21)\d{2}`)
)

// parseLeaseExpiration accepts a clean YYYY-MM-DD, a bare year (string or
// number), or any string containing a plausible 4-digit year, which gets
// synthesized to YYYY-12-31. Anything else is treated as absent.
func parseLeaseExpiration(v interface{}) (date string, year int, ok bool) {
	if n, isNum := toFloat(v); isNum {
		y := int(n)
		if y >= 1800 && y <= 2199 {
			return fmt.Sprintf("%d-12-31", y), y, true
		}
		return "", 0, false
	}
	s := cleanString(v)
	if s == "" {
		return "", 0, false
	}
	if cleanDateRe.MatchString(s) {
		var y int
		fmt.Sscanf(s[:4], "%d", &y)
		return s, y, true
	}
	match := yearRe.FindString(s)
	if match == "" {
		return "", 0, false
	}
	var y int
	fmt.Sscanf(match, "%d", &y)
	return fmt.Sprintf("%d-12-31", y), y, true
}

func deriveCoordinates(std, flat map[string]interface{}) {
	lat, okLat := toFloat(std["Latitude"])
	lng, okLng := toFloat(std["Longitude"])
	if !okLat || !okLng {
		return
	}
	flat["latitude"] = lat
	flat["longitude"] = lng
	flat["coordinates"] = models.NewGeoPoint(lng, lat)
}

// camelize recursively renames keys to camelCase, drops null, masked and
// empty-container values and collapses all-boolean objects to a comma-joined
// list of the true keys. Returns nil when the value should be dropped.
func camelize(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		// Empty strings survive; only the redaction sentinel is dropped.
		if val == maskedValue {
			return nil
		}
		return val
	case map[string]interface{}:
		if len(val) == 0 {
			return nil
		}
		if joined, ok := collapseBools(val); ok {
			if joined == "" {
				return nil
			}
			return joined
		}
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if cv := camelize(inner); cv != nil {
				out[toCamelCase(k)] = cv
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []interface{}:
		if len(val) == 0 {
			return nil
		}
		out := make([]interface{}, 0, len(val))
		for _, inner := range val {
			if cv := camelize(inner); cv != nil {
				out = append(out, cv)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return val
	}
}

// collapseBools reduces {"Pool": true, "Spa": false} style feature groups to
// "Pool". Only fires when every value is a bool.
func collapseBools(m map[string]interface{}) (string, bool) {
	var on []string
	for k, v := range m {
		b, ok := v.(bool)
		if !ok {
			return "", false
		}
		if b {
			on = append(on, k)
		}
	}
	sort.Strings(on)
	return strings.Join(on, ", "), true
}

// toCamelCase lowercases the first character run; each subsequent uppercase
// letter starts a capitalized segment. "ListPrice" -> "listPrice".
func toCamelCase(s string) string {
	if s == "" {
		return s
	}
	var parts []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			parts = append(parts, s[start:i])
			start = i
		}
	}
	parts = append(parts, s[start:])

	var b strings.Builder
	b.WriteString(strings.ToLower(parts[0]))
	for _, p := range parts[1:] {
		p = strings.ToLower(p)
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

var (
	nonWordRe    = regexp.MustCompile(`[^\w\s-]`)
	whitespaceRe = regexp.MustCompile(`[\s_]+`)
	hyphenRunRe  = regexp.MustCompile(`-{2,}`)
)

// slugify folds the address to lowercase ASCII with hyphens for whitespace.
func slugify(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	for _, r := range decomposed {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	out := strings.ToLower(strings.TrimSpace(b.String()))
	out = nonWordRe.ReplaceAllString(out, "")
	out = whitespaceRe.ReplaceAllString(out, "-")
	out = hyphenRunRe.ReplaceAllString(out, "-")
	return strings.Trim(out, "-")
}

func cleanString(v interface{}) string {
	s, _ := v.(string)
	s = strings.TrimSpace(s)
	if s == maskedValue {
		return ""
	}
	return s
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func hasNumber(v interface{}) bool {
	_, ok := toFloat(v)
	return ok
}
