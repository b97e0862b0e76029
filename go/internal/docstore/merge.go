package docstore

// MergeInto deep-merges src into dst and returns dst. Nested objects are merged key by key;
// any other value in src replaces the one in dst. src is never aliased by the result.
func MergeInto(dst, src Document) Document {
	if dst == nil {
		dst = Document{}
	}
	for key, value := range src {
		incoming, isObject := asObject(value)
		if !isObject {
			dst[key] = cloneValue(value)
			continue
		}
		existing, ok := asObject(dst[key])
		if !ok {
			dst[key] = cloneObject(incoming)
			continue
		}
		dst[key] = map[string]any(MergeInto(Document(existing), Document(incoming)))
	}
	return dst
}

// Clone returns a deep copy of doc.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	return Document(cloneObject(doc))
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Document:
		return m, m != nil
	case map[string]any:
		return m, m != nil
	}
	return nil, false
}

func cloneObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Document:
		return Document(cloneObject(x))
	case map[string]any:
		return cloneObject(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
