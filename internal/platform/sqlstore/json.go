package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	return string(b), nil
}

// marshalNullable stores a nil map as SQL NULL.
func marshalNullable(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalJSON(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func unmarshalJSON(raw sql.NullString, into any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), into); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}
