/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"regexp"
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// FieldMaskFormat defines possible values for field mask formats.
type FieldMaskFormat string

// Field mask formats.
const (
	FieldMaskFormatHTTPHeader FieldMaskFormat = "http_header"
	FieldMaskFormatJSON       FieldMaskFormat = "json"
	FieldMaskFormatURLEncoded FieldMaskFormat = "urlencoded"
)

// DefaultMasks hide credentials and personal data that may reach logs through dumped requests or errors.
var DefaultMasks = []MaskingRuleConfig{
	{Field: "Authorization", Formats: []FieldMaskFormat{FieldMaskFormatHTTPHeader}},
	{Field: "Cookie", Formats: []FieldMaskFormat{FieldMaskFormatHTTPHeader}},
	{Field: "password", Formats: []FieldMaskFormat{FieldMaskFormatJSON, FieldMaskFormatURLEncoded}},
	{Field: "client_secret", Formats: []FieldMaskFormat{FieldMaskFormatJSON, FieldMaskFormatURLEncoded}},
	{Field: "access_token", Formats: []FieldMaskFormat{FieldMaskFormatJSON, FieldMaskFormatURLEncoded}},
	{Field: "refresh_token", Formats: []FieldMaskFormat{FieldMaskFormatJSON, FieldMaskFormatURLEncoded}},
	{Field: "id_token", Formats: []FieldMaskFormat{FieldMaskFormatJSON, FieldMaskFormatURLEncoded}},
	{Field: "email", Formats: []FieldMaskFormat{FieldMaskFormatJSON, FieldMaskFormatURLEncoded}},
}

// Mask replaces every match of RegExp with Mask.
type Mask struct {
	RegExp *regexp.Regexp
	Mask   string
}

// NewMask compiles a mask. It panics if the regular expression is invalid.
func NewMask(cfg MaskConfig) Mask {
	return Mask{regexp.MustCompile(cfg.RegExp), cfg.Mask}
}

// FieldMasker holds all masks that apply to a single field name.
type FieldMasker struct {
	Field string // lowercase
	Masks []Mask
}

// NewFieldMasker builds masks for the formats listed in the rule plus its custom masks.
func NewFieldMasker(cfg MaskingRuleConfig) FieldMasker {
	fm := FieldMasker{Field: strings.ToLower(cfg.Field), Masks: make([]Mask, 0, len(cfg.Masks)+len(cfg.Formats))}
	for _, maskCfg := range cfg.Masks {
		fm.Masks = append(fm.Masks, NewMask(maskCfg))
	}
	quoted := regexp.QuoteMeta(cfg.Field)
	for _, format := range cfg.Formats {
		switch format {
		case FieldMaskFormatHTTPHeader:
			fm.Masks = append(fm.Masks, NewMask(MaskConfig{
				RegExp: `(?i)` + quoted + `: .+?\r\n`,
				Mask:   cfg.Field + ": ***\r\n",
			}))
		case FieldMaskFormatJSON:
			fm.Masks = append(fm.Masks, NewMask(MaskConfig{
				RegExp: `(?i)"` + quoted + `"\s*:\s*".*?[^\\]"`,
				Mask:   `"` + cfg.Field + `": "***"`,
			}))
		case FieldMaskFormatURLEncoded:
			fm.Masks = append(fm.Masks, NewMask(MaskConfig{
				RegExp: `(?i)` + quoted + `\s*=\s*[^&\s]+`,
				Mask:   cfg.Field + "=***",
			}))
		}
	}
	return fm
}

// Masker masks secrets in strings.
// Field names are located with a single Aho-Corasick pass over the lowercased input,
// and only the regular expressions of the fields that occur are evaluated.
type Masker struct {
	fields  [][]FieldMasker // indexed by matcher dictionary position
	matcher *ahocorasick.Matcher
}

// NewMasker creates a Masker for the given rules. Rules with the same field are applied in order.
func NewMasker(rules []MaskingRuleConfig) *Masker {
	m := &Masker{}
	dictIndex := make(map[string]int, len(rules))
	var dict []string
	for _, rule := range rules {
		fm := NewFieldMasker(rule)
		idx, ok := dictIndex[fm.Field]
		if !ok {
			idx = len(dict)
			dictIndex[fm.Field] = idx
			dict = append(dict, fm.Field)
			m.fields = append(m.fields, nil)
		}
		m.fields[idx] = append(m.fields[idx], fm)
	}
	m.matcher = ahocorasick.NewStringMatcher(dict)
	return m
}

// Mask returns s with all configured secrets replaced.
func (m *Masker) Mask(s string) string {
	if len(m.fields) == 0 || s == "" {
		return s
	}
	hits := m.matcher.MatchThreadSafe([]byte(strings.ToLower(s)))
	if len(hits) == 0 {
		return s
	}
	sort.Ints(hits)
	for _, idx := range hits {
		for _, fm := range m.fields[idx] {
			for _, mask := range fm.Masks {
				s = mask.RegExp.ReplaceAllString(s, mask.Mask)
			}
		}
	}
	return s
}
