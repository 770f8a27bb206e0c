package provider

import (
	"fmt"

	"dispatch/internal/config"
)

// AllocationPolicy decides which provider fulfills a trip and whether the
// booking happens immediately at creation or is left to a manual ops flow.
type AllocationPolicy struct {
	byTripType map[string]Type
	immediate  map[Type]bool
}

func NewAllocationPolicy(cfg config.AllocationConfig) *AllocationPolicy {
	p := &AllocationPolicy{
		byTripType: make(map[string]Type, len(cfg.ByTripType)),
		immediate:  make(map[Type]bool, len(cfg.Immediate)),
	}
	for tripType, prov := range cfg.ByTripType {
		p.byTripType[tripType] = Type(prov)
	}
	for _, prov := range cfg.Immediate {
		p.immediate[Type(prov)] = true
	}
	return p
}

// Choose returns the fulfilling provider and whether it is booked
// immediately.
func (p *AllocationPolicy) Choose(tripType string) (Type, bool, error) {
	prov, ok := p.byTripType[tripType]
	if !ok {
		return "", false, fmt.Errorf("no provider allocated for trip type %q", tripType)
	}
	return prov, p.immediate[prov], nil
}
