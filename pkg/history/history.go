// Package history keeps a record of past build runs in a small bbolt database.
package history

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"

	"github.com/CyberDay1/the-expanse/pkg/buildsys"
)

var (
	runsBucket   = []byte("runs")
	latestBucket = []byte("latest")
)

const keyTimeFormat = "20060102T150405.000000000"

// VariantRecord is the stored outcome of one variant build.
type VariantRecord struct {
	RunID     string
	Name      string
	Status    string
	ExitCode  int
	TimedOut  bool
	Duration  time.Duration
	Artifacts []string
	Error     string
}

// RunRecord summarizes one invocation of build or build-all.
type RunRecord struct {
	ID       string
	Command  string
	Mode     string
	Started  time.Time
	Finished time.Time
	Results  []VariantRecord
}

// Failed counts the failed variants of the run.
func (r *RunRecord) Failed() int {
	count := 0
	for _, item := range r.Results {
		if item.Status == buildsys.Failure.String() {
			count++
		}
	}
	return count
}

// NewRunRecord converts dispatch results into a RunRecord with a fresh ID.
func NewRunRecord(command string, mode buildsys.Mode, started time.Time, results []*buildsys.BuildResult) (*RunRecord, error) {
	id, err := nanoid.Generate(nanoid.DefaultAlphabet, 12)
	if err != nil {
		return nil, eris.Wrap(err, "failed to generate run ID")
	}

	record := &RunRecord{
		ID:       id,
		Command:  command,
		Mode:     mode.String(),
		Started:  started,
		Finished: time.Now(),
		Results:  make([]VariantRecord, 0, len(results)),
	}

	for _, result := range results {
		item := VariantRecord{
			RunID:     id,
			Name:      result.Variant.Name(),
			Status:    result.Status.String(),
			ExitCode:  result.ExitCode,
			TimedOut:  result.TimedOut,
			Duration:  result.Duration,
			Artifacts: result.Artifacts,
		}
		if result.Err != nil {
			item.Error = result.Err.Error()
		}
		record.Results = append(record.Results, item)
	}

	return record, nil
}

// Store is an open history database.
type Store struct {
	db *bolt.DB
	// MaxRuns limits how many runs are kept; zero keeps everything.
	MaxRuns int
}

func Open(ctx context.Context, path string) (*Store, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open history %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{runsBucket, latestBucket} {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialize history")
	}

	buildsys.Log(ctx).Debug().Str("path", path).Msg("Opened build history")
	return &Store{db: db}, nil
}

// OpenExisting opens the history at path if it exists and returns nil otherwise.
func OpenExisting(ctx context.Context, path string) (*Store, error) {
	_, err := os.Stat(path)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "failed to check %s", path)
	}

	return Open(ctx, path)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func runKey(record *RunRecord) []byte {
	return []byte(record.Started.UTC().Format(keyTimeFormat) + "#" + record.ID)
}

func encode(value interface{}) ([]byte, error) {
	var buffer bytes.Buffer
	err := gob.NewEncoder(&buffer).Encode(value)
	if err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

func decode(data []byte, value interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(value)
}

// SaveRun stores the run and updates the latest result of every variant in it.
func (s *Store) SaveRun(ctx context.Context, record *RunRecord) error {
	encoded, err := encode(record)
	if err != nil {
		return eris.Wrap(err, "failed to encode run")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(runsBucket).Put(runKey(record), encoded)
		if err != nil {
			return eris.Wrap(err, "failed to store run")
		}

		latest := tx.Bucket(latestBucket)
		for _, item := range record.Results {
			if item.Status == buildsys.Skipped.String() {
				continue
			}

			data, err := encode(item)
			if err != nil {
				return eris.Wrapf(err, "failed to encode result for %s", item.Name)
			}

			err = latest.Put([]byte(item.Name), data)
			if err != nil {
				return eris.Wrapf(err, "failed to store result for %s", item.Name)
			}
		}

		if s.MaxRuns > 0 {
			return prune(ctx, tx.Bucket(runsBucket), s.MaxRuns)
		}
		return nil
	})
}

func prune(ctx context.Context, bucket *bolt.Bucket, keep int) error {
	count := 0
	cursor := bucket.Cursor()
	for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
		count++
	}
	if count <= keep {
		return nil
	}

	toDelete := make([][]byte, 0, count-keep)
	for k, _ := cursor.First(); k != nil && len(toDelete) < count-keep; k, _ = cursor.Next() {
		toDelete = append(toDelete, append([]byte{}, k...))
	}

	for _, k := range toDelete {
		err := bucket.Delete(k)
		if err != nil {
			return eris.Wrapf(err, "failed to prune run %s", k)
		}
	}

	buildsys.Log(ctx).Debug().Int("removed", len(toDelete)).Msg("Pruned build history")
	return nil
}

// LatestRuns returns up to n runs, newest first. n <= 0 returns every run.
func (s *Store) LatestRuns(n int) ([]*RunRecord, error) {
	runs := make([]*RunRecord, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(runsBucket).Cursor()
		for k, v := cursor.Last(); k != nil && (n <= 0 || len(runs) < n); k, v = cursor.Prev() {
			record := new(RunRecord)
			err := decode(v, record)
			if err != nil {
				return eris.Wrapf(err, "failed to decode run %s", k)
			}
			runs = append(runs, record)
		}

		return nil
	})

	return runs, err
}

// LatestFor returns the most recent non-skipped result of the named variant or nil.
func (s *Store) LatestFor(variant string) (*VariantRecord, error) {
	var record *VariantRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(latestBucket).Get([]byte(variant))
		if data == nil {
			return nil
		}

		record = new(VariantRecord)
		return decode(data, record)
	})

	return record, err
}
