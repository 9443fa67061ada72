package document

import "fmt"

// UnwrapTypeError is returned when an unwrap key names a value that is not a mapping.
type UnwrapTypeError struct {
	Key  string
	Type string
}

func (e *UnwrapTypeError) Error() string {
	return fmt.Sprintf("cannot unwrap %q: value is %s, not dict", e.Key, e.Type)
}

// Select narrows a document. pick keeps only the named top-level keys in pick
// order; unwrap then merges the named mapping values into a fresh document,
// later keys overriding earlier ones. Duplicate names are ignored after their
// first occurrence and absent names are skipped.
func Select(doc *Map, pick, unwrap []string) (*Map, error) {
	out := doc
	if len(pick) > 0 {
		picked := NewMap(len(pick))
		for _, k := range dedupe(pick) {
			if v, ok := out.Get(k); ok {
				picked.Set(k, v)
			}
		}
		out = picked
	}

	if len(unwrap) > 0 {
		merged := NewMap(0)
		for _, k := range dedupe(unwrap) {
			v, ok := out.Get(k)
			if !ok {
				continue
			}
			inner, ok := v.(*Map)
			if !ok {
				return nil, &UnwrapTypeError{Key: k, Type: TypeName(v)}
			}
			merged.Update(inner)
		}
		out = merged
	}

	if out == doc {
		return doc.Copy(), nil
	}
	return out, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
