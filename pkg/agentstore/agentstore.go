// Package agentstore is the bbolt-backed registry of known agents
// (name, ID) that the extra-valid and agent-info sync workers consult
// to decide whether incoming content names a real agent or a stale
// one (spec §1's external collaborator interface, §4.10's
// agent-groups/agent-info filtering).
package agentstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketAgents = []byte("agents")

// Agent is the minimal record the cluster core needs: enough to
// answer "does this name/ID still exist" without depending on the
// platform's full agent inventory schema. Status and Node are carried
// only for the admin endpoint's get_agents filters (spec §6); the
// sync workers' KnownID/KnownName lookups ignore them.
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Node   string `json:"node"`
}

// Store is a bbolt-backed known-agent registry.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the registry database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "agentstore.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("agentstore: opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAgents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("agentstore: creating bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put upserts one agent record, keyed by ID.
func (s *Store) Put(agent Agent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		data, err := json.Marshal(agent)
		if err != nil {
			return err
		}
		return b.Put([]byte(agent.ID), data)
	})
}

// Delete removes an agent record by ID.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).Delete([]byte(id))
	})
}

// List returns every known agent.
func (s *Store) List() ([]Agent, error) {
	var agents []Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(k, v []byte) error {
			var a Agent
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			agents = append(agents, a)
			return nil
		})
	})
	return agents, err
}

// KnownID reports whether id belongs to a known agent.
func (s *Store) KnownID(id string) bool {
	var found bool
	s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketAgents).Get([]byte(id)) != nil
		return nil
	})
	return found
}

// KnownName reports whether name belongs to a known agent. This scans
// the bucket since it is keyed by ID; the registry is small enough
// (one entry per enrolled agent) that a full scan per lookup is not a
// bottleneck compared to the disk and network I/O a sync round does
// anyway.
func (s *Store) KnownName(name string) bool {
	var found bool
	s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAgents).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var a Agent
			if err := json.Unmarshal(v, &a); err != nil {
				continue
			}
			if a.Name == name {
				found = true
				return nil
			}
		}
		return nil
	})
	return found
}
