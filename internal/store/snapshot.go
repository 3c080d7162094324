package store

import (
	"encoding/json"
	"fmt"
)

// DumpTables serializes the full committed contents of the named tables into
// one JSON document. The protection layer snapshots with this before every
// mutation; the dump is also what a manual restore would work from after a
// fatal rollback failure.
func (db *DB) DumpTables(tables ...string) ([]byte, error) {
	dump := make(map[string][]map[string]any, len(tables))

	for _, table := range tables {
		rows, err := db.Query(fmt.Sprintf(`SELECT * FROM %s`, table))
		if err != nil {
			return nil, fmt.Errorf("dump %s: %w", table, err)
		}

		cols, err := rows.Columns()
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("columns of %s: %w", table, err)
		}

		var records []map[string]any
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s row: %w", table, err)
			}
			rec := make(map[string]any, len(cols))
			for i, c := range cols {
				if b, ok := vals[i].([]byte); ok {
					rec[c] = string(b)
				} else {
					rec[c] = vals[i]
				}
			}
			records = append(records, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate %s: %w", table, err)
		}
		rows.Close()

		dump[table] = records
	}

	data, err := json.Marshal(dump)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Tier1Tables and Tier2Tables are the table scopes snapshotted by the two
// protection guards.
var (
	Tier1Tables = []string{"conversations", "messages"}
	Tier2Tables = []string{"patterns", "pattern_relations", "file_relationships", "intent_patterns", "corrections"}
)
