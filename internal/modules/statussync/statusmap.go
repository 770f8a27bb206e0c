// Package statussync reconciles partner-reported booking status into local
// trip state, on a timer and from inbound partner webhooks.
package statussync

import (
	"strings"

	"dispatch/internal/modules/provider"
	"dispatch/internal/modules/trip"
)

// Each partner speaks its own status vocabulary; these tables translate it
// into trip statuses. Lookups are case-insensitive.
var statusTables = map[provider.Type]map[string]trip.Status{
	provider.TypePartnerA: {
		"CONFIRMED": trip.StatusDriverAssigned,
		"ONGOING":   trip.StatusStarted,
		"COMPLETED": trip.StatusCompleted,
		"CANCELLED": trip.StatusCancelled,
		"NO_SHOW":   trip.StatusNoShow,
	},
	provider.TypePartnerB: {
		"BLOCKED":       trip.StatusDriverAssigned,
		"CONFIRMED":     trip.StatusDriverAssigned,
		"DRIVER_ON_WAY": trip.StatusStarted,
		"IN_TRIP":       trip.StatusStarted,
		"DONE":          trip.StatusCompleted,
		"VOID":          trip.StatusCancelled,
	},
	provider.TypeInternal: {
		"CONFIRMED": trip.StatusDriverAssigned,
		"ONGOING":   trip.StatusStarted,
		"COMPLETED": trip.StatusCompleted,
		"CANCELLED": trip.StatusCancelled,
	},
}

// Translate maps a partner's status string to the internal trip status.
func Translate(p provider.Type, partnerStatus string) (trip.Status, bool) {
	table, ok := statusTables[p]
	if !ok {
		return "", false
	}
	s, ok := table[strings.ToUpper(strings.TrimSpace(partnerStatus))]
	return s, ok
}

// Where several partner words map to one trip status, the canonical word for
// outbound answers is pinned here.
var reverseTables = map[provider.Type]map[trip.Status]string{
	provider.TypePartnerA: {
		trip.StatusCreated:        "CONFIRMED",
		trip.StatusDriverAssigned: "CONFIRMED",
		trip.StatusStarted:        "ONGOING",
		trip.StatusCompleted:      "COMPLETED",
		trip.StatusCancelled:      "CANCELLED",
		trip.StatusNoShow:         "NO_SHOW",
	},
	provider.TypePartnerB: {
		trip.StatusCreated:        "BLOCKED",
		trip.StatusDriverAssigned: "CONFIRMED",
		trip.StatusStarted:        "IN_TRIP",
		trip.StatusCompleted:      "DONE",
		trip.StatusCancelled:      "VOID",
		trip.StatusNoShow:         "VOID",
	},
}

// ToPartner renders a trip status in the partner's own vocabulary, for
// answering partner-inbound status queries.
func ToPartner(p provider.Type, s trip.Status) (string, bool) {
	table, ok := reverseTables[p]
	if !ok {
		return "", false
	}
	out, ok := table[s]
	return out, ok
}
