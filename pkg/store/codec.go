package store

import (
	"encoding/json"
	"fmt"
)

// encodeStrings serializes observations or tags as a JSON array.
// A nil slice is stored as an empty array.
func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(b), nil
}

// decodeStrings parses a JSON array column. NULL or empty columns decode to an empty slice.
func decodeStrings(raw []byte) ([]string, error) {
	values := []string{}
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string list: %w", err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

// DecodeEntity builds an Entity from raw column values. Search strategies share it so
// that rows scanned outside this package decode exactly like LoadGraph does.
func DecodeEntity(name, entityType string, observations, tags []byte) (Entity, error) {
	obs, err := decodeStrings(observations)
	if err != nil {
		return Entity{}, fmt.Errorf("entity %q observations: %w", name, err)
	}
	tagList, err := decodeStrings(tags)
	if err != nil {
		return Entity{}, fmt.Errorf("entity %q tags: %w", name, err)
	}
	return Entity{
		Name:         name,
		EntityType:   entityType,
		Observations: obs,
		Tags:         tagList,
	}, nil
}
