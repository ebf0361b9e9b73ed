// Package ledger implements the audit trail behind dump_state() (§6.4):
// one record per script, keyed by its whole-script hash (a later load of
// the same script overwrites it), recording when it was loaded and the last
// lifecycle state it reached.
//
// Grounded on the teacher's own boltdb/bolt direct dependency, the pack's
// only embedded key-value store and a natural fit for a small append-style
// ledger (see DESIGN.md).
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
)

var bucketName = []byte("script_loads")

// Record is one script-load history entry.
type Record struct {
	WholeHash uint32    `json:"whole_hash"`
	LoadedAt  time.Time `json:"loaded_at"`
	LastState string    `json:"last_state"`
}

// Ledger wraps a boltdb file.
type Ledger struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the ledger at path.
func Open(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Close releases the ledger file.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record appends (or overwrites, on repeated loads of the same script) a
// load record.
func (l *Ledger) Record(r Record) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(keyFor(r.WholeHash), data)
	})
}

// UpdateState updates only the LastState field of an already-recorded load.
func (l *Ledger) UpdateState(wholeHash uint32, state string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		data := b.Get(keyFor(wholeHash))
		if data == nil {
			return nil
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		r.LastState = state
		out, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(keyFor(wholeHash), out)
	})
}

// All returns every recorded load, for dump_state().
func (l *Ledger) All() ([]Record, error) {
	var out []Record
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

func keyFor(wholeHash uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], wholeHash)
	return b[:]
}
