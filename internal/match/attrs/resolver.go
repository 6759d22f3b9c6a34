// Package attrs translates between the hierarchical wire representation of a
// submission and the flat attribute values the registry stores and searches.
package attrs

import (
	"strings"
	"unicode"

	"ormatch/internal/match/config"
	"ormatch/internal/match/models"
	dErrors "ormatch/pkg/domain-errors"
)

// Resolver extracts logical attribute values out of an inbound request.
type Resolver struct {
	cfg *config.Config
}

func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve looks up the value the request provides for a logical attribute.
// The second return is false when the request carries no usable value: the
// wire path yields nothing, the field is empty, or the value is
// null-equivalent and the attribute does not keep null equivalents.
func (r *Resolver) Resolve(name string, req models.Request) (string, bool, error) {
	attr, err := r.cfg.Attribute(name)
	if err != nil {
		return "", false, err
	}

	var v string
	switch {
	case attr.Wire == "sor":
		v = req.SOR
	case attr.Wire == "identifier:sor":
		v = req.SORID
	case strings.Contains(attr.Wire, ":"):
		v = resolveGrouped(attr, req.Attributes)
	default:
		v = stringValue(req.Attributes[attr.Wire])
	}

	if v == "" {
		return "", false, nil
	}
	if !attr.NullEquivalents && NullEquivalent(v) {
		return "", false, nil
	}
	return v, true, nil
}

// ColumnValues resolves every configured attribute and returns the resolvable
// ones keyed by registry column. The sor and sorid columns are excluded; the
// store writes them from the request envelope.
func (r *Resolver) ColumnValues(req models.Request) (map[string]string, error) {
	values := make(map[string]string)
	for name, attr := range r.cfg.Attributes {
		if attr.Column == "sor" || attr.Column == "sorid" {
			continue
		}
		v, ok, err := r.Resolve(name, req)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidConfiguration, "resolve attribute "+name)
		}
		if ok {
			values[attr.Column] = v
		}
	}
	return values, nil
}

// resolveGrouped walks a repeated wire group. The wire path is "<kind>:<tag>"
// and the group lives under the pluralized kind, e.g. "identifier:national"
// selects from "identifiers". With a configured group label the element whose
// type equals the label is selected and the tag field extracted; without one
// the element whose type equals the tag is selected and the singular field
// extracted. If neither matches, the first element's tag field is used.
func resolveGrouped(attr *config.Attribute, doc models.SORAttributes) string {
	kind, tag, _ := strings.Cut(attr.Wire, ":")
	list := elements(doc[kind+"s"])
	if len(list) == 0 {
		return ""
	}

	if attr.Group != "" {
		for _, el := range list {
			if stringValue(el["type"]) == attr.Group {
				return stringValue(el[tag])
			}
		}
		return ""
	}

	for _, el := range list {
		if stringValue(el["type"]) == tag {
			return stringValue(el[kind])
		}
	}

	// Grouping-discriminated path with no configured group label.
	return stringValue(list[0][tag])
}

// elements normalizes a decoded JSON array into a slice of objects. Both the
// raw decoder shape ([]any) and the mapper's output ([]map[string]any) occur.
func elements(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, el := range list {
			if m, ok := el.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// NullEquivalent reports whether a value carries no identifying content: it
// contains no letter and no non-zero digit. Punctuation-only placeholders and
// all-zero identifiers are treated as absent.
func NullEquivalent(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return false
		}
		if r >= '1' && r <= '9' {
			return false
		}
	}
	return true
}
