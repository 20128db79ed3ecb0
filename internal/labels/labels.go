// Package labels maps localized detail-page labels to canonical document fields.
package labels

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Canonical field keys.
const (
	FieldDocumentNumber = "document_number"
	FieldDocumentType   = "document_type"
	FieldIssuingAgency  = "issuing_agency"
	FieldIssueDate      = "issue_date"
	FieldSigner         = "signer"
	FieldTitle          = "title"
	FieldSummary        = "summary"
	FieldEffectiveDate  = "effective_date"
)

var knownFields = map[string]struct{}{
	FieldDocumentNumber: {},
	FieldDocumentType:   {},
	FieldIssuingAgency:  {},
	FieldIssueDate:      {},
	FieldSigner:         {},
	FieldTitle:          {},
	FieldSummary:        {},
	FieldEffectiveDate:  {},
}

// KnownField reports whether key is a canonical field.
func KnownField(key string) bool {
	_, ok := knownFields[key]
	return ok
}

// DefaultLabels covers the label variants seen on the registry.
var DefaultLabels = map[string]string{
	"Số hiệu":           FieldDocumentNumber,
	"Số hiệu văn bản":   FieldDocumentNumber,
	"Số ký hiệu":        FieldDocumentNumber,
	"Loại văn bản":      FieldDocumentType,
	"Hình thức văn bản": FieldDocumentType,
	"Cơ quan ban hành":  FieldIssuingAgency,
	"Đơn vị ban hành":   FieldIssuingAgency,
	"Ngày ban hành":     FieldIssueDate,
	"Người ký":          FieldSigner,
	"Trích yếu":         FieldTitle,
	"Tiêu đề":           FieldTitle,
	"Tóm tắt":           FieldSummary,
	"Nội dung tóm tắt":  FieldSummary,
	"Ngày hiệu lực":     FieldEffectiveDate,
	"Ngày có hiệu lực":  FieldEffectiveDate,
}

// Provider is an injectable, reloadable label dictionary.
type Provider interface {
	Lookup(label string) (string, bool)
	RawLabels() []string
	Snapshot() map[string]string
	Reload(ctx context.Context) error
	Subscribe() (<-chan map[string]string, func())
}

// Normalize canonicalizes a label for lookup: NFC, trimmed, inner whitespace collapsed,
// trailing colon stripped and lowercased.
func Normalize(label string) string {
	s := norm.NFC.String(label)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ":： ")
	return strings.ToLower(strings.TrimSpace(s))
}

// Dictionary is an immutable label table.
type Dictionary struct {
	byKey map[string]string
	raw   map[string]string
}

// NewDictionary builds a dictionary from raw label → field pairs.
func NewDictionary(entries map[string]string) Dictionary {
	d := Dictionary{byKey: make(map[string]string, len(entries)), raw: make(map[string]string, len(entries))}
	for label, field := range entries {
		d.set(label, field)
	}
	return d
}

func (d Dictionary) set(label, field string) {
	key := Normalize(label)
	if key == "" {
		return
	}
	d.byKey[key] = field
	d.raw[strings.TrimSpace(norm.NFC.String(label))] = field
}

// Merge returns a copy of d with overrides applied on top.
func (d Dictionary) Merge(overrides map[string]string) Dictionary {
	out := Dictionary{byKey: make(map[string]string, len(d.byKey)+len(overrides)), raw: make(map[string]string, len(d.raw)+len(overrides))}
	for k, v := range d.byKey {
		out.byKey[k] = v
	}
	for k, v := range d.raw {
		out.raw[k] = v
	}
	for label, field := range overrides {
		out.set(label, field)
	}
	return out
}

// Lookup resolves a label as it appears on a page.
func (d Dictionary) Lookup(label string) (string, bool) {
	field, ok := d.byKey[Normalize(label)]
	return field, ok
}

// RawLabels returns every label in its original form, longest first so that
// longer phrasings win over their prefixes when matched against free text.
func (d Dictionary) RawLabels() []string {
	out := make([]string, 0, len(d.raw))
	for label := range d.raw {
		out = append(out, label)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// Entries returns a copy of the raw label table.
func (d Dictionary) Entries() map[string]string {
	out := make(map[string]string, len(d.raw))
	for k, v := range d.raw {
		out[k] = v
	}
	return out
}

// Issue describes an override entry that was skipped.
type Issue struct {
	Label  string
	Reason string
}

// ParseOverrides decodes a flat {rawLabel: canonicalField} map from YAML or JSON.
// The format follows the file extension; unknown extensions try JSON then YAML.
// Entries with non-string or unknown values are reported and skipped.
func ParseOverrides(name string, data []byte) (map[string]string, []Issue, error) {
	raw := map[string]any{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]string{}, nil, nil
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("decode yaml labels: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("decode json labels: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			if yerr := yaml.Unmarshal(data, &raw); yerr != nil {
				return nil, nil, fmt.Errorf("decode labels: %w", yerr)
			}
		}
	}

	out := make(map[string]string, len(raw))
	var issues []Issue
	for label, value := range raw {
		field, ok := value.(string)
		if !ok {
			issues = append(issues, Issue{Label: label, Reason: fmt.Sprintf("value %v is not a string", value)})
			continue
		}
		field = strings.TrimSpace(field)
		if !KnownField(field) {
			issues = append(issues, Issue{Label: label, Reason: fmt.Sprintf("unknown field %q", field)})
			continue
		}
		if Normalize(label) == "" {
			issues = append(issues, Issue{Label: label, Reason: "empty label"})
			continue
		}
		out[label] = field
	}
	return out, issues, nil
}
