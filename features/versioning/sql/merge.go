package sql

import (
	"encoding/json"

	"dario.cat/mergo"
)

// mergeStructured deep-merges patch into existing: nested maps merge
// recursively, scalars in patch win. A nil/empty patch is a no-op.
func mergeStructured(existing, patch json.RawMessage) (json.RawMessage, error) {
	if len(patch) == 0 {
		return existing, nil
	}
	var dst map[string]any
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &dst); err != nil {
			return nil, err
		}
	}
	if dst == nil {
		dst = map[string]any{}
	}
	var src map[string]any
	if err := json.Unmarshal(patch, &src); err != nil {
		return nil, err
	}
	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return nil, err
	}
	return json.Marshal(dst)
}
