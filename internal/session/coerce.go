package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/rcliao/dst-flow/internal/model"
)

// CoercePANAS converts loosely typed questionnaire answers into a PANAS block.
// Older form widgets submit values such as "3checked"; those are stripped and
// parsed. Values that still fail are left nil and reported as warnings.
func CoercePANAS(raw map[string]any) (model.PANAS, []string) {
	var p model.PANAS
	var warnings []string

	for _, key := range model.PANASItems {
		v, ok := raw[key]
		if !ok || v == nil {
			warnings = append(warnings, fmt.Sprintf("panas %s: missing", key))
			continue
		}
		if s, isString := v.(string); isString {
			v = strings.TrimSpace(strings.ReplaceAll(s, "checked", ""))
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("panas %s: %v", key, err))
			continue
		}
		*p.Item(key) = &n
	}
	warnings = append(warnings, unknownKeys(raw, model.PANASItems, "panas")...)
	return p, warnings
}

// CoerceVAS converts loosely typed slider values into a VAS block.
func CoerceVAS(raw map[string]any) (model.VAS, []string) {
	var v model.VAS
	var warnings []string

	for _, key := range model.VASItems {
		val, ok := raw[key]
		if !ok || val == nil {
			warnings = append(warnings, fmt.Sprintf("vas %s: missing", key))
			continue
		}
		if s, isString := val.(string); isString {
			val = strings.TrimSpace(s)
		}
		f, err := cast.ToFloat64E(val)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("vas %s: %v", key, err))
			continue
		}
		*v.Item(key) = &f
	}
	warnings = append(warnings, unknownKeys(raw, model.VASItems, "vas")...)
	return v, warnings
}

func unknownKeys(raw map[string]any, known []string, kind string) []string {
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}
	var out []string
	for k := range raw {
		if !allowed[k] {
			out = append(out, fmt.Sprintf("%s: unknown item %q ignored", kind, k))
		}
	}
	sort.Strings(out)
	return out
}
