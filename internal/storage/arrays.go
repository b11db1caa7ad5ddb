package storage

import (
	"database/sql/driver"
	"fmt"

	"github.com/lib/pq"
)

// pqStringArray adapts []string to Postgres TEXT[] columns via lib/pq's
// array codec (the pgx stdlib driver doesn't implement one of its own).
type pqStringArray []string

func (a pqStringArray) Value() (driver.Value, error) {
	return pq.StringArray(a).Value()
}

func (a *pqStringArray) Scan(src any) error {
	var raw pq.StringArray
	if err := raw.Scan(src); err != nil {
		return err
	}
	*a = pqStringArray(raw)
	return nil
}

// pqFloatArray adapts []float32 (embedding vectors) to Postgres
// DOUBLE PRECISION[] columns, round-tripping through float64.
type pqFloatArray []float32

func (a pqFloatArray) Value() (driver.Value, error) {
	widened := make(pq.Float64Array, len(a))
	for i, v := range a {
		widened[i] = float64(v)
	}
	return widened.Value()
}

func (a *pqFloatArray) Scan(src any) error {
	if src == nil {
		*a = nil
		return nil
	}
	var raw pq.Float64Array
	if err := raw.Scan(src); err != nil {
		return fmt.Errorf("scan float array: %w", err)
	}
	narrowed := make(pqFloatArray, len(raw))
	for i, v := range raw {
		narrowed[i] = float32(v)
	}
	*a = narrowed
	return nil
}
