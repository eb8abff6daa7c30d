package model

import "fmt"

// VASTimepoint names when a Visual Analogue Scale was answered.
type VASTimepoint string

const (
	VASBaseline     VASTimepoint = "baseline"
	VASIntermediate VASTimepoint = "intermediate"
	VASEnd          VASTimepoint = "end"
)

// PANASTimepoint names when a PANAS questionnaire was answered.
type PANASTimepoint string

const (
	PANASBegin PANASTimepoint = "begin_panas"
	PANASEnd   PANASTimepoint = "end_panas"
)

// ParseVASTimepoint validates a timepoint name.
func ParseVASTimepoint(s string) (VASTimepoint, error) {
	switch tp := VASTimepoint(s); tp {
	case VASBaseline, VASIntermediate, VASEnd:
		return tp, nil
	}
	return "", fmt.Errorf("unknown VAS timepoint %q", s)
}

// ParsePANASTimepoint validates a timepoint name.
func ParsePANASTimepoint(s string) (PANASTimepoint, error) {
	switch tp := PANASTimepoint(s); tp {
	case PANASBegin, PANASEnd:
		return tp, nil
	}
	return "", fmt.Errorf("unknown PANAS timepoint %q", s)
}

// VAS holds the four scale dimensions.
type VAS struct {
	Stress       *float64 `json:"stress"`
	Frustrated   *float64 `json:"frustrated"`
	Overstrained *float64 `json:"overstrained"`
	Ashamed      *float64 `json:"ashamed"`
}

// Populated reports whether any scale of the block has been answered.
func (v VAS) Populated() bool {
	for _, k := range VASItems {
		if *v.Item(k) != nil {
			return true
		}
	}
	return false
}

// PANAS holds the ten affect items.
type PANAS struct {
	Active     *int `json:"active"`
	Upset      *int `json:"upset"`
	Hostile    *int `json:"hostile"`
	Inspired   *int `json:"inspired"`
	Ashamed    *int `json:"ashamed"`
	Alert      *int `json:"alert"`
	Nervous    *int `json:"nervous"`
	Determined *int `json:"determined"`
	Attentive  *int `json:"attentive"`
	Afraid     *int `json:"afraid"`
}

// Populated reports whether any item of the block has been answered.
func (p PANAS) Populated() bool {
	for _, k := range PANASItems {
		if *p.Item(k) != nil {
			return true
		}
	}
	return false
}

// PANASItems lists the item keys in questionnaire order.
var PANASItems = []string{
	"active", "upset", "hostile", "inspired", "ashamed",
	"alert", "nervous", "determined", "attentive", "afraid",
}

// VASItems lists the scale keys.
var VASItems = []string{"stress", "frustrated", "overstrained", "ashamed"}

// Item returns the slot for a PANAS item key, or nil if unknown.
func (p *PANAS) Item(key string) **int {
	switch key {
	case "active":
		return &p.Active
	case "upset":
		return &p.Upset
	case "hostile":
		return &p.Hostile
	case "inspired":
		return &p.Inspired
	case "ashamed":
		return &p.Ashamed
	case "alert":
		return &p.Alert
	case "nervous":
		return &p.Nervous
	case "determined":
		return &p.Determined
	case "attentive":
		return &p.Attentive
	case "afraid":
		return &p.Afraid
	}
	return nil
}

// Item returns the slot for a VAS key, or nil if unknown.
func (v *VAS) Item(key string) **float64 {
	switch key {
	case "stress":
		return &v.Stress
	case "frustrated":
		return &v.Frustrated
	case "overstrained":
		return &v.Overstrained
	case "ashamed":
		return &v.Ashamed
	}
	return nil
}

// SelfReports holds every questionnaire block of a session.
type SelfReports struct {
	VASBaseline     VAS   `json:"vasBaseline"`
	VASIntermediate VAS   `json:"vasIntermediate"`
	VASEnd          VAS   `json:"vasEnd"`
	PANASBegin      PANAS `json:"panasBegin"`
	PANASEnd        PANAS `json:"panasEnd"`
}

// VAS returns the block slot for tp, or nil if tp is unknown.
func (s *SelfReports) VAS(tp VASTimepoint) *VAS {
	switch tp {
	case VASBaseline:
		return &s.VASBaseline
	case VASIntermediate:
		return &s.VASIntermediate
	case VASEnd:
		return &s.VASEnd
	}
	return nil
}

// PANAS returns the block slot for tp, or nil if tp is unknown.
func (s *SelfReports) PANAS(tp PANASTimepoint) *PANAS {
	switch tp {
	case PANASBegin:
		return &s.PANASBegin
	case PANASEnd:
		return &s.PANASEnd
	}
	return nil
}

func (s SelfReports) clone() SelfReports {
	out := s
	for _, tp := range []VASTimepoint{VASBaseline, VASIntermediate, VASEnd} {
		src, dst := s.VAS(tp), out.VAS(tp)
		for _, k := range VASItems {
			*dst.Item(k) = clonePtr(*src.Item(k))
		}
	}
	for _, tp := range []PANASTimepoint{PANASBegin, PANASEnd} {
		src, dst := s.PANAS(tp), out.PANAS(tp)
		for _, k := range PANASItems {
			*dst.Item(k) = clonePtr(*src.Item(k))
		}
	}
	return out
}
