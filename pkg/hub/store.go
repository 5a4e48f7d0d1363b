package hub

import (
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket            = "hub"
	defaultMQTTBroker = "tcp://localhost:1883"
	defaultTopicRoot  = "opensprinkler"

	mqttConfigKey = "mqtt_config"
)

// MQTTConfig holds the broker settings of the MQTT bridge.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	Broker    string `json:"broker"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	TopicRoot string `json:"topic_root"`
}

var defaultMQTTConfig = MQTTConfig{
	Broker:    defaultMQTTBroker,
	TopicRoot: defaultTopicRoot,
}

// Store keeps the hub settings in the bolt database.
type Store struct {
	db *bolt.DB
}

func NewStore(db *bolt.DB) (*Store, error) {
	st := Store{db: db}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) setDefaults() error {
	if _, err := s.GetMQTTConfig(); err != nil {
		log.Infof("Setting default MQTT config")
		return s.SetMQTTConfig(defaultMQTTConfig)
	}

	return nil
}

// SetMQTTConfig saves the MQTT configuration as a json string in the database.
func (s *Store) SetMQTTConfig(cfg MQTTConfig) error {
	if cfg.Broker == "" {
		return fmt.Errorf("broker cannot be empty")
	}
	if cfg.TopicRoot == "" || strings.ContainsAny(cfg.TopicRoot, "+#") {
		return fmt.Errorf("invalid topic root: %q", cfg.TopicRoot)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put([]byte(mqttConfigKey), value)
	})
}

// GetMQTTConfig retrieves the MQTT configuration from the database.
func (s *Store) GetMQTTConfig() (MQTTConfig, error) {
	var cfg MQTTConfig

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(mqttConfigKey))
		if value == nil {
			return fmt.Errorf("key %s not found", mqttConfigKey)
		}

		return json.Unmarshal(value, &cfg)
	})

	return cfg, err
}
