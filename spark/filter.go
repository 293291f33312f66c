package spark

import (
	"fmt"
	"strings"
)

// Filter condition helpers. String values are single-quoted; timestamps and
// other literals go through the raw variants unquoted, which is what the
// feed's filter grammar expects.

func Eq(field, value string) string {
	return fmt.Sprintf("%s Eq '%s'", field, value)
}

func EqRaw(field, value string) string {
	return fmt.Sprintf("%s Eq %s", field, value)
}

func Ge(field, value string) string {
	return fmt.Sprintf("%s Ge %s", field, value)
}

// Bt is the feed's inclusive between operator, spelled lowercase on the wire.
func Bt(field, from, to string) string {
	return fmt.Sprintf("%s bt %s,%s", field, from, to)
}

func Or(conds ...string) string {
	return group(conds, " Or ")
}

func And(conds ...string) string {
	return group(conds, " And ")
}

func group(conds []string, sep string) string {
	var kept []string
	for _, c := range conds {
		if c != "" {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return ""
	case 1:
		return kept[0]
	default:
		return "(" + strings.Join(kept, sep) + ")"
	}
}

// ListingQuery describes one replication pull.
type ListingQuery struct {
	MlsIDs        []string
	Statuses      []string
	PropertyTypes []string
	ModifiedFrom  string // ISO timestamps, incremental window
	ModifiedTo    string
	ClosedFrom    string // YYYY-MM-DD, closed-cycle pulls
	ClosedTo      string
	Expansions    []string
	Select        []string
	Limit         int
}

// Filter renders the query's conditions joined with And. Empty dimensions
// are omitted.
func (q ListingQuery) Filter() string {
	var conds []string

	if len(q.MlsIDs) > 0 {
		var ids []string
		for _, id := range q.MlsIDs {
			ids = append(ids, Eq("MlsId", id))
		}
		conds = append(conds, Or(ids...))
	}
	if len(q.Statuses) > 0 {
		var sts []string
		for _, s := range q.Statuses {
			sts = append(sts, Eq("StandardStatus", s))
		}
		conds = append(conds, Or(sts...))
	}
	if len(q.PropertyTypes) > 0 {
		var pts []string
		for _, p := range q.PropertyTypes {
			pts = append(pts, Eq("PropertyType", p))
		}
		conds = append(conds, Or(pts...))
	}
	if q.ModifiedFrom != "" && q.ModifiedTo != "" {
		conds = append(conds, Bt("ModificationTimestamp", q.ModifiedFrom, q.ModifiedTo))
	} else if q.ModifiedFrom != "" {
		conds = append(conds, Ge("ModificationTimestamp", q.ModifiedFrom))
	}
	if q.ClosedFrom != "" && q.ClosedTo != "" {
		conds = append(conds, Bt("CloseDate", q.ClosedFrom, q.ClosedTo))
	}

	return And(conds...)
}
