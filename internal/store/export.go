package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/autograde/internal/model"
)

// ExportAllKeys builds an export document holding every stored key.
func (s *Store) ExportAllKeys() (model.KeyExport, error) {
	summaries, err := s.ListKeys()
	if err != nil {
		return model.KeyExport{}, fmt.Errorf("list keys: %w", err)
	}

	export := model.KeyExport{ExportedAt: time.Now().UTC(), Keys: []model.StoredKey{}}
	for _, ks := range summaries {
		sk, err := s.GetKey(ks.Name)
		if err != nil {
			return model.KeyExport{}, fmt.Errorf("get key %s: %w", ks.Name, err)
		}
		export.Keys = append(export.Keys, sk)
	}
	return export, nil
}
