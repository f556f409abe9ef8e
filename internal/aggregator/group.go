package aggregator

import "github.com/thaveesi/blackRabbit/internal/domain"

// EventGroup is the run of events that belong to one contract.
type EventGroup struct {
	ContractID string
	Events     []domain.Event
}

// Groups is an ordered partition of events by contract.
type Groups []EventGroup

// Get returns the events grouped under contractID, or nil.
func (g Groups) Get(contractID string) []domain.Event {
	for _, group := range g {
		if group.ContractID == contractID {
			return group.Events
		}
	}
	return nil
}

// GroupEventsByContract partitions events by ContractID. Groups appear in
// the order their contract is first seen and events keep their input order
// within a group. Nothing is sorted, deduplicated or validated.
func GroupEventsByContract(events []domain.Event) Groups {
	index := make(map[string]int)
	var groups Groups
	for _, ev := range events {
		i, ok := index[ev.ContractID]
		if !ok {
			i = len(groups)
			index[ev.ContractID] = i
			groups = append(groups, EventGroup{ContractID: ev.ContractID})
		}
		groups[i].Events = append(groups[i].Events, ev)
	}
	return groups
}
