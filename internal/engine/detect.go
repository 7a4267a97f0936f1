package engine

import "verdictline/internal/domain"

// Detect classifies a record as v2 when it carries task_type and an object-valued
// scores field. Everything else, malformed records included, is v1.
func Detect(rec domain.Record) domain.Schema {
	if _, ok := rec["task_type"]; !ok {
		return domain.SchemaV1
	}
	if _, ok := asObject(rec["scores"]); !ok {
		return domain.SchemaV1
	}
	return domain.SchemaV2
}
