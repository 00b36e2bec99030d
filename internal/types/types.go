package types

import "fmt"

// Op identifies the operation a queued request performs.
type Op uint8

const (
	OpDetect Op = iota + 1
	OpRegister
	OpIdentify
	// OpTerminate is the shutdown sentinel. It never reaches the engine.
	OpTerminate
)

func (o Op) String() string {
	switch o {
	case OpDetect:
		return "detect"
	case OpRegister:
		return "register"
	case OpIdentify:
		return "identify"
	case OpTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Rect is a face bounding box in pixel coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Attr holds the face attributes returned by detection.
type Attr struct {
	Gender string  `json:"gender"`
	Age    float64 `json:"age"`
}

// DetectResult is one face found by a detect request.
type DetectResult struct {
	Rect Rect `json:"rect"`
	Attr Attr `json:"attr"`
}

// RegisterResult is one face registered as a new person.
type RegisterResult struct {
	Rect     Rect   `json:"rect"`
	PersonID string `json:"person_id"`
}

// IdentifyResult is one face matched (or not) against the person group.
type IdentifyResult struct {
	Rect       Rect    `json:"rect"`
	PersonID   string  `json:"person_id"`
	Confidence float64 `json:"confidence"`
}

// Matched reports whether the engine found a candidate for this face.
func (r IdentifyResult) Matched() bool {
	return r.PersonID != "" && r.Confidence > 0
}

// Table is a result sink: a caller-owned accumulator populated by exactly one
// operation. Only the tables in this package implement it, so the operation a
// request performs is always determined by the table it carries.
type Table interface {
	Op() Op
	Len() int
	sealed()
}

// DetectTable accumulates detect results.
type DetectTable struct {
	Results []DetectResult `json:"results"`
}

func (t *DetectTable) Op() Op   { return OpDetect }
func (t *DetectTable) Len() int { return len(t.Results) }
func (t *DetectTable) sealed()  {}

// Append adds results to the table.
func (t *DetectTable) Append(rs ...DetectResult) { t.Results = append(t.Results, rs...) }

// RegisterTable accumulates register results.
type RegisterTable struct {
	Results []RegisterResult `json:"results"`
}

func (t *RegisterTable) Op() Op   { return OpRegister }
func (t *RegisterTable) Len() int { return len(t.Results) }
func (t *RegisterTable) sealed()  {}

// Append adds results to the table.
func (t *RegisterTable) Append(rs ...RegisterResult) { t.Results = append(t.Results, rs...) }

// IdentifyTable accumulates identify results.
type IdentifyTable struct {
	Results []IdentifyResult `json:"results"`
}

func (t *IdentifyTable) Op() Op   { return OpIdentify }
func (t *IdentifyTable) Len() int { return len(t.Results) }
func (t *IdentifyTable) sealed()  {}

// Append adds results to the table.
func (t *IdentifyTable) Append(rs ...IdentifyResult) { t.Results = append(t.Results, rs...) }

// NewTable returns an empty table for op, or nil if op carries no results.
func NewTable(op Op) Table {
	switch op {
	case OpDetect:
		return &DetectTable{}
	case OpRegister:
		return &RegisterTable{}
	case OpIdentify:
		return &IdentifyTable{}
	default:
		return nil
	}
}

// ParseOp is the inverse of Op.String for the three engine operations.
func ParseOp(s string) (Op, error) {
	switch s {
	case "detect":
		return OpDetect, nil
	case "register":
		return OpRegister, nil
	case "identify":
		return OpIdentify, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", s)
	}
}
