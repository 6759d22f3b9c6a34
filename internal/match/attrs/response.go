package attrs

import (
	"sort"
	"strings"

	"ormatch/internal/match/config"
	"ormatch/internal/match/models"
)

// ResponseMapper is the inverse of Resolver: it folds a stored row's flat
// columns back into the hierarchical wire shape.
type ResponseMapper struct {
	cfg *config.Config
}

func NewResponseMapper(cfg *config.Config) *ResponseMapper {
	return &ResponseMapper{cfg: cfg}
}

// Map rebuilds the wire representation from stored column values. Empty
// columns and columns with no configured reverse mapping are dropped.
func (m *ResponseMapper) Map(columns map[string]string) models.SORRecord {
	out := models.SORRecord{}

	// Grouping-discriminated elements are assembled a field at a time, keyed
	// by group label, then flattened once all columns are seen.
	grouped := map[string]map[string]map[string]string{}

	for _, col := range sortedKeys(columns) {
		v := columns[col]
		if v == "" {
			continue
		}
		attr, ok := m.cfg.ByColumn(col)
		if !ok {
			continue
		}

		kind, tag, hierarchical := strings.Cut(attr.Wire, ":")
		if !hierarchical {
			out[attr.Wire] = v
			continue
		}

		plural := kind + "s"
		if attr.Group != "" {
			if grouped[plural] == nil {
				grouped[plural] = map[string]map[string]string{}
			}
			if grouped[plural][attr.Group] == nil {
				grouped[plural][attr.Group] = map[string]string{}
			}
			grouped[plural][attr.Group][tag] = v
			continue
		}

		out[plural] = append(listOf(out[plural]), map[string]any{
			kind:   v,
			"type": tag,
		})
	}

	for _, plural := range sortedGroupKeys(grouped) {
		for _, g := range sortedFieldKeys(grouped[plural]) {
			el := map[string]any{"type": g}
			for field, v := range grouped[plural][g] {
				el[field] = v
			}
			out[plural] = append(listOf(out[plural]), el)
		}
	}

	return out
}

func listOf(v any) []map[string]any {
	list, _ := v.([]map[string]any)
	return list
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedGroupKeys(m map[string]map[string]map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFieldKeys(m map[string]map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
