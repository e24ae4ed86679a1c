package certificate

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/certly/internal/payload"
)

// Overrides returns the visual settings of the element row
func (e *Element) Overrides() payload.Overrides {
	return payload.Overrides{
		Width:    e.Width,
		Font:     e.Font,
		FontSize: e.FontSize,
		Colour:   e.Colour,
	}
}

// UpgradePayloads folds the visual settings of legacy elements into their
// payloads. It returns the number of elements changed. Running it again is
// a no-op.
func (s *Store) UpgradePayloads(ctx context.Context) (int, error) {
	upgraded := 0
	err := s.update(ctx, func(tx *bolt.Tx, rec *recorder) error {
		b := tx.Bucket(bucketTemplates)

		var changed []*Template
		err := b.ForEach(func(k, v []byte) error {
			var t Template
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("corrupt template %s: %w", k, err)
			}
			dirty := false
			for _, p := range t.Pages {
				for _, e := range p.Elements {
					if e.SchemaVersion >= payload.SchemaVersion {
						continue
					}
					if out := payload.Migrate(&e.Data, e.Overrides()); out != nil {
						e.Data = *out
					}
					e.SchemaVersion = payload.SchemaVersion
					dirty = true
					upgraded++
				}
			}
			if dirty {
				changed = append(changed, &t)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, t := range changed {
			t.Version++
			t.UpdatedAt = rec.now
			if err := putTemplate(tx, t); err != nil {
				return err
			}
		}
		return nil
	})
	return upgraded, err
}
