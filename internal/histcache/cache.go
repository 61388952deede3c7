// Package histcache is a bbolt-backed local copy of conversation history so
// a client can render instantly on cold start, before the REST fetch lands.
package histcache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/chatsync/internal/model"
)

// Cache stores messages in one bucket per room, keyed by timestamp then ID
// so iteration yields time order.
type Cache struct {
	db *bolt.DB
}

// Open opens or creates the cache file.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("histcache: open %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Close releases the file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// ReplaceRoom swaps the room's cached history for msgs.
func (c *Cache) ReplaceRoom(roomID string, msgs []model.Message) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(roomID)) != nil {
			if err := tx.DeleteBucket([]byte(roomID)); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket([]byte(roomID))
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := put(b, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// Append adds one message to the room's cached history.
func (c *Cache) Append(msg model.Message) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(msg.ChatRoomID))
		if err != nil {
			return err
		}
		return put(b, msg)
	})
}

// Load returns the room's cached history in time order; nil when the room
// has never been cached.
func (c *Cache) Load(roomID string) ([]model.Message, error) {
	var out []model.Message
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(roomID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var m model.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	return out, err
}

func put(b *bolt.Bucket, m model.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	key := m.ID
	if key == "" {
		key = m.ClientID
	}
	return b.Put([]byte(m.Timestamp.UTC().Format(time.RFC3339Nano)+"|"+key), data)
}
