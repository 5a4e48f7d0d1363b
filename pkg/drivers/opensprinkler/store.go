package opensprinkler

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket    = "opensprinkler"
	configKey = "controller_config"
)

// Store keeps the controller configuration in the bolt database.
type Store struct {
	db *bolt.DB
}

// NewStore creates a new store instance and sets default values if they are not already set.
func NewStore(db *bolt.DB) (*Store, error) {
	st := Store{db: db}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) setDefaults() error {
	if _, err := s.GetConfig(); err != nil {
		log.Infof("Setting default controller config")
		return s.put(defaultConfig)
	}
	return nil
}

// SetConfig validates the configuration and saves it as a json string in the database.
func (s *Store) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.put(cfg)
}

func (s *Store) put(cfg Config) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put([]byte(configKey), value)
	})
}

// GetConfig retrieves the controller configuration from the database.
func (s *Store) GetConfig() (Config, error) {
	var cfg Config

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(configKey))
		if value == nil {
			return fmt.Errorf("key %s not found", configKey)
		}

		return json.Unmarshal(value, &cfg)
	})

	return cfg, err
}
