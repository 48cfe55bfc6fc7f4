package schemata

import (
	"github.com/denismitr/schemata/ledger"
	"github.com/denismitr/schemata/migration"
)

// Status is a snapshot of the registry compared with the ledger
type Status struct {
	Executed []string `json:"executed"`
	Pending  []string `json:"pending"`
	Total    int      `json:"total"`
	Drift    []string `json:"drift,omitempty"`
	Gaps     []string `json:"gaps,omitempty"`
}

// Report lists the migration keys an operation touched
type Report struct {
	RunID      string   `json:"run_id"`
	Applied    []string `json:"applied,omitempty"`
	Skipped    []string `json:"skipped,omitempty"`
	RolledBack []string `json:"rolled_back,omitempty"`
}

type state struct {
	executed migration.Migrations
	pending  migration.Migrations
	drift    []string
	gaps     []string
	entries  []ledger.Entry
}

// inspect splits the registry into executed and pending migrations.
// Ledger ids are matched numerically, so "001" in the ledger matches "1"
// in the registry.
func inspect(registry *migration.Registry, entries []ledger.Entry) state {
	s := state{entries: entries}
	applied := make(map[string]bool, len(entries))

	for _, e := range entries {
		id := migration.ID(e.ID)
		applied[id.Canonical()] = true

		if _, ok := registry.Find(id); !ok {
			s.drift = append(s.drift, e.ID)
		}
	}

	for _, m := range registry.All() {
		if applied[m.ID.Canonical()] {
			s.executed = append(s.executed, m)
		} else {
			s.pending = append(s.pending, m)
		}
	}

	if len(s.executed) > 0 {
		highest := s.executed[len(s.executed)-1].ID
		for _, m := range s.pending {
			if m.ID.Less(highest) {
				s.gaps = append(s.gaps, m.ID.String())
			}
		}
	}

	return s
}

func (s state) status(total int) Status {
	result := Status{
		Executed: make([]string, 0, len(s.executed)),
		Pending:  make([]string, 0, len(s.pending)),
		Total:    total,
		Drift:    s.drift,
		Gaps:     s.gaps,
	}

	result.Executed = append(result.Executed, s.executed.IDs()...)
	result.Pending = append(result.Pending, s.pending.IDs()...)

	return result
}

func (s state) highestExecuted() migration.ID {
	if len(s.executed) == 0 {
		return ""
	}

	return s.executed[len(s.executed)-1].ID
}
