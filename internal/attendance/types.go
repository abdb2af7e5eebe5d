package attendance

import "time"

// UnknownIdentity labels detections that matched nobody in the roster.
const UnknownIdentity = "unknown"

// DateLayout is the calendar-day key format of a Record.
const DateLayout = "2006-01-02"

// Record is one attendance row per identity and calendar day.
type Record struct {
	ID        int64
	Identity  string
	CheckIn   time.Time
	CheckOut  *time.Time
	Date      string
	CreatedAt time.Time
}

// State is the position of an (identity, date) pair in the daily state machine.
type State int

const (
	NoRecord State = iota
	CheckedIn
	Complete
)

func (s State) String() string {
	switch s {
	case NoRecord:
		return "no_record"
	case CheckedIn:
		return "checked_in"
	case Complete:
		return "complete"
	default:
		return "invalid"
	}
}

// StateOf derives the state of a day from its record, nil meaning no record.
func StateOf(rec *Record) State {
	switch {
	case rec == nil:
		return NoRecord
	case rec.CheckOut == nil:
		return CheckedIn
	default:
		return Complete
	}
}

// Outcome is the result of a ledger transition.
type Outcome string

const (
	OutcomeCheckedIn       Outcome = "check_in"
	OutcomeCheckedOut      Outcome = "check_out"
	OutcomeAlreadyComplete Outcome = "already_complete"
)

// BBox is a face bounding box in frame pixels.
type BBox struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
	W int `json:"w" msgpack:"w"`
	H int `json:"h" msgpack:"h"`
}

// Detection is one face reported by the identity source for a frame.
type Detection struct {
	Identity   string  `json:"identity"`
	Confidence float64 `json:"confidence"` // 0-100
	BBox       BBox    `json:"bbox"`
}

// Known reports whether the detection matched an enrolled identity.
func (d Detection) Known() bool {
	return d.Identity != "" && d.Identity != UnknownIdentity
}

// RosterEntry is an enrolled identity and where its reference photos live.
type RosterEntry struct {
	Identity   string
	StorageKey string
}

// DateOf returns the day key of t in loc.
func DateOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateLayout)
}
