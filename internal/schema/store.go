package schema

import (
	"encoding/json"
	"fmt"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// Store is the single well-known schema record of one index.
type Store interface {
	// ReadSchema returns the raw record; found is false when none was written yet.
	ReadSchema() (data []byte, found bool, err error)
	// WriteSchema replaces the record so that readers see either the old or the new one.
	WriteSchema(data []byte) error
}

// Load reads the schema record. found is false when there is none.
func Load(st Store) (s *Schema, found bool, err error) {
	data, found, err := st.ReadSchema()
	if err != nil {
		return nil, false, errors.EngineError("failed to read schema", err)
	}
	if !found {
		return nil, false, nil
	}

	s = &Schema{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, false, errors.New(errors.ErrCodeSchemaCorrupt, "schema record is corrupt", err)
	}
	return s, true, nil
}

// Save writes s as the schema record.
func Save(st Store, s *Schema) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.EngineError(fmt.Sprintf("failed to encode schema of [%s]", s.Name()), err)
	}
	if err := st.WriteSchema(data); err != nil {
		return errors.EngineError(fmt.Sprintf("failed to write schema of [%s]", s.Name()), err)
	}
	return nil
}
