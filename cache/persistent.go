// Copyright 2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// persistedEntry is one record of the on-disk tier: a sequence of these,
// one JSON document per line. The value is kept raw so a single file
// format serves every value type.
type persistedEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
}

func newPersistedEntry(key string, value any, createdAt time.Time, ttl time.Duration) (persistedEntry, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return persistedEntry{}, err
	}
	return persistedEntry{Key: key, Value: raw, CreatedAt: createdAt, TTL: ttl}, nil
}

func (e persistedEntry) decode(value any) error {
	return json.Unmarshal(e.Value, value)
}

// persistentFile is the on-disk tier of a cache. Reads take a shared
// advisory lock and writes an exclusive one, scoped to the load or save
// call, so multiple processes can share one cache file. Writes go to a
// temporary file that is renamed into place, so a reader never observes a
// partially written entry.
type persistentFile[V any] struct {
	path string
	lock *flock.Flock
	log  logrus.FieldLogger
}

func newPersistentFile[V any](path string, log logrus.FieldLogger) *persistentFile[V] {
	return &persistentFile[V]{
		path: path,
		lock: flock.New(path + ".lock"),
		log:  log,
	}
}

// loadAll reads every intact record from the file. A truncated or corrupt
// record ends the scan without error: the file may have been interrupted
// mid-write by an earlier process, and whatever precedes the damage is
// still usable.
func (p *persistentFile[V]) loadAll() ([]persistedEntry, error) {
	if err := p.lock.RLock(); err != nil {
		return nil, fmt.Errorf("locking %s for reading: %w", p.path, err)
	}
	defer p.unlock()

	file, err := os.Open(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var records []persistedEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(nil, maxRecordBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record persistedEntry
		if err := json.Unmarshal(line, &record); err != nil {
			p.log.WithField("path", p.path).WithError(err).
				Warn("cache: corrupt record in persisted cache, truncating")
			break
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		// Same treatment as a corrupt record: keep what was read so far.
		p.log.WithField("path", p.path).WithError(err).
			Warn("cache: persisted cache ends in unreadable data, truncating")
	}
	return records, nil
}

// save atomically replaces the file's contents with the given records.
func (p *persistentFile[V]) save(records []persistedEntry) error {
	if err := p.lock.Lock(); err != nil {
		return fmt.Errorf("locking %s for writing: %w", p.path, err)
	}
	defer p.unlock()

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	writer := bufio.NewWriter(tmp)
	encoder := json.NewEncoder(writer)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := writer.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.path)
}

func (p *persistentFile[V]) unlock() {
	if err := p.lock.Unlock(); err != nil {
		p.log.WithField("path", p.path).WithError(err).Warn("cache: cannot release file lock")
	}
}

// maxRecordBytes bounds a single persisted record. Region lists and
// resolved address lists are far smaller than this.
const maxRecordBytes = 1 << 20
