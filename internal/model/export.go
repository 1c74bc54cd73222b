package model

import "time"

// KeyExport is the top-level JSON structure for answer-key export.
type KeyExport struct {
	ExportedAt time.Time   `json:"exported_at"`
	Keys       []StoredKey `json:"keys"`
}

// StoredKey is a named answer key kept in the key library.
type StoredKey struct {
	Name      string     `json:"name"`
	Key       *AnswerKey `json:"answer_key"`
	UpdatedAt time.Time  `json:"updated_at"`
}
