package bleve

import (
	"encoding/json"
	"errors"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketIndexes = "indexes"
	bucketAliases = "aliases"
	bucketDocs    = "docs"
)

type indexMeta struct {
	Name      string          `json:"name"`
	CreatedAt int64           `json:"created_at"`
	Settings  json.RawMessage `json:"settings,omitempty"`
}

func (e *Engine) ensureBuckets() error {
	return e.meta.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketIndexes, bucketAliases, bucketDocs} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func mustBucket(tx *bbolt.Tx, name string) *bbolt.Bucket {
	b := tx.Bucket([]byte(name))
	if b == nil {
		b, _ = tx.CreateBucketIfNotExists([]byte(name))
	}
	return b
}

// docBucket holds the raw source of every document of one physical index.
func docBucket(tx *bbolt.Tx, index string) *bbolt.Bucket {
	db := tx.Bucket([]byte(bucketDocs))
	if db == nil {
		return nil
	}
	return db.Bucket([]byte(index))
}

func mustDocBucket(tx *bbolt.Tx, index string) *bbolt.Bucket {
	db := mustBucket(tx, bucketDocs)
	b, _ := db.CreateBucketIfNotExists([]byte(index))
	return b
}

func hasIndex(tx *bbolt.Tx, name string) bool {
	return mustBucket(tx, bucketIndexes).Get([]byte(name)) != nil
}

func aliasTargets(tx *bbolt.Tx, alias string) ([]string, error) {
	raw := mustBucket(tx, bucketAliases).Get([]byte(alias))
	if raw == nil {
		return nil, nil
	}
	var out []string
	if err := decode(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func putAliasTargets(tx *bbolt.Tx, alias string, targets []string) error {
	b := mustBucket(tx, bucketAliases)
	if len(targets) == 0 {
		return b.Delete([]byte(alias))
	}
	buf, err := encode(targets)
	if err != nil {
		return err
	}
	return b.Put([]byte(alias), buf)
}

var errDecode = errors.New("decode failed")

func decode(data []byte, target any) error {
	if len(data) == 0 {
		return errDecode
	}
	return json.Unmarshal(data, target)
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func nowUnix() int64 {
	return time.Now().Unix()
}
