package store

import "github.com/tidwall/buntdb"

// Batch is grouping metadata only; it has no scheduling effect on the
// downloads that carry its id.
type Batch struct {
	ID        string  `json:"id"`
	CreatedAt string  `json:"created_at"`
	Name      *string `json:"name,omitempty"`
	DestDir   string  `json:"dest_dir"`
}

func (s *Store) InsertBatch(b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b.CreatedAt = nowISO()
	return s.db.Update(func(tx *buntdb.Tx) error {
		return s.setJSON(tx, collBatches, b.ID, b)
	})
}

func (s *Store) GetBatch(id string) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b Batch
	err := s.db.View(func(tx *buntdb.Tx) error {
		return s.getJSON(tx, collBatches, id, &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) DeleteBatch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *buntdb.Tx) error {
		return s.deleteKey(tx, collBatches, id)
	})
}
