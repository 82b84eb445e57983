package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/boltdb/bolt"
)

var productsBucket = []byte("products")

// BoltStore keeps products in a bolt database file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(productsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func getProduct(b *bolt.Bucket, productID string) (*Product, error) {
	raw := b.Get([]byte(productID))
	if raw == nil {
		return nil, nil
	}
	var p Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", productID, err)
	}
	return &p, nil
}

func putProduct(b *bolt.Bucket, p *Product) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return b.Put([]byte(p.ProductID), raw)
}

// Get retrieves a product by id.
func (s *BoltStore) Get(productID string) (p *Product, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		p, err = getProduct(tx.Bucket(productsBucket), productID)
		return err
	})
	return p, err
}

// List returns products in category. Keys iterate in byte order.
func (s *BoltStore) List(category string) ([]Product, error) {
	var out []Product
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(productsBucket).ForEach(func(k, v []byte) error {
			var p Product
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decode product %s: %w", k, err)
			}
			if category == "" || p.Category == category {
				out = append(out, p)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, err
}

// Put stores a product, incrementing its version.
func (s *BoltStore) Put(p Product) (version uint64, err error) {
	if p.ProductID == "" {
		return 0, ErrInvalidProduct
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(productsBucket)
		existing, err := getProduct(b, p.ProductID)
		if err != nil {
			return err
		}
		p.Version = 1
		if existing != nil {
			p.Version = existing.Version + 1
		}
		version = p.Version
		return putProduct(b, &p)
	})
	return version, err
}

// PutRepair applies a repaired stock level.
func (s *BoltStore) PutRepair(p Product) error {
	if p.ProductID == "" {
		return ErrInvalidProduct
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(productsBucket)
		existing, err := getProduct(b, p.ProductID)
		if err != nil {
			return err
		}
		return putProduct(b, repaired(existing, p))
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
