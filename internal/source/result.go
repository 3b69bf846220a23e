package source

import "thirdcoast.systems/ytharvest/internal/store"

type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRestricted
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRestricted:
		return "restricted"
	default:
		return "error"
	}
}

// RecsResult is the tagged outcome of a recommendation fetch. Restricted is
// not an error: the caller is expected to try the secondary source.
type RecsResult struct {
	Outcome Outcome
	Recs    []Rec
	Extra   *store.VideoExtraStored
	Err     error
}

func RecsOK(recs []Rec, extra *store.VideoExtraStored) RecsResult {
	return RecsResult{Outcome: OutcomeOK, Recs: recs, Extra: extra}
}

func RecsRestricted(extra *store.VideoExtraStored) RecsResult {
	return RecsResult{Outcome: OutcomeRestricted, Extra: extra}
}

func RecsError(err error) RecsResult {
	return RecsResult{Outcome: OutcomeError, Err: err}
}
