package lootdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by the Get* lookups.
var ErrNotFound = errors.New("lootdb: not found")

// Store keeps the attempt journal and artifact index in a JSON file and the
// artifact bytes in a loot/ directory next to it.
type Store struct {
	mu      sync.Mutex
	path    string
	lootDir string
	data    *storeData
	nextIDs map[string]int64
	now     func() time.Time
}

type storeData struct {
	Targets   []Target   `json:"targets"`
	Attempts  []Attempt  `json:"attempts"`
	Artifacts []Artifact `json:"artifacts"`
}

// Target is a scanned appliance.
type Target struct {
	ID        int64     `json:"id"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	SSL       bool      `json:"ssl"`
	CreatedAt time.Time `json:"created_at"`
}

// Attempt is one journaled pass of the exploit against a target.
type Attempt struct {
	ID         int64     `json:"id"`
	TargetID   int64     `json:"target_id"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	RemoteFile string    `json:"remote_file"`
	Entity     string    `json:"entity,omitempty"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	Error      string    `json:"error,omitempty"`
	ArtifactID int64     `json:"artifact_id,omitempty"`
	LootPath   string    `json:"loot_path,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Artifact describes one stored loot file.
type Artifact struct {
	ID           int64     `json:"id"`
	Host         string    `json:"host"`
	Category     string    `json:"category"`
	MIMEType     string    `json:"mime_type"`
	Filename     string    `json:"filename"`
	OriginalPath string    `json:"original_path"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SHA256       string    `json:"sha256"`
	CreatedAt    time.Time `json:"created_at"`
}

// Open loads the index at path, creating its directory when needed.
func Open(_ context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("lootdb: create directory: %w", err)
	}
	st := &Store{
		path:    path,
		lootDir: filepath.Join(filepath.Dir(path), "loot"),
		data:    &storeData{},
		nextIDs: map[string]int64{},
		now:     time.Now,
	}
	if err := st.load(); err != nil {
		return nil, err
	}
	return st, nil
}

// LootDir is where artifact files are written.
func (s *Store) LootDir() string { return s.lootDir }

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("lootdb: open index: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(s.data); err != nil {
		return fmt.Errorf("lootdb: decode index %s: %w", s.path, err)
	}
	s.reindex()
	return nil
}

func (s *Store) reindex() {
	s.nextIDs = map[string]int64{}
	update := func(kind string, current int64) {
		if current > s.nextIDs[kind] {
			s.nextIDs[kind] = current
		}
	}
	for _, t := range s.data.Targets {
		update("targets", t.ID)
	}
	for _, a := range s.data.Attempts {
		update("attempts", a.ID)
	}
	for _, a := range s.data.Artifacts {
		update("artifacts", a.ID)
	}
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) next(kind string) int64 {
	s.nextIDs[kind]++
	return s.nextIDs[kind]
}

// release hands back the id taken by the last next(kind) after a failed
// persist.
func (s *Store) release(kind string) {
	s.nextIDs[kind]--
}

// UpsertTarget returns the id of host:port, inserting it on first sight.
func (s *Store) UpsertTarget(_ context.Context, host string, port int, ssl bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.data.Targets {
		if t.Host == host && t.Port == port {
			if t.SSL != ssl {
				s.data.Targets[i].SSL = ssl
				if err := s.persist(); err != nil {
					s.data.Targets[i].SSL = t.SSL
					return 0, err
				}
			}
			return t.ID, nil
		}
	}
	target := Target{ID: s.next("targets"), Host: host, Port: port, SSL: ssl, CreatedAt: s.now()}
	s.data.Targets = append(s.data.Targets, target)
	if err := s.persist(); err != nil {
		s.data.Targets = s.data.Targets[:len(s.data.Targets)-1]
		s.release("targets")
		return 0, err
	}
	return target.ID, nil
}

// RecordAttempt appends a to the journal and returns its id.
func (s *Store) RecordAttempt(_ context.Context, a Attempt) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = s.next("attempts")
	s.data.Attempts = append(s.data.Attempts, a)
	if err := s.persist(); err != nil {
		s.data.Attempts = s.data.Attempts[:len(s.data.Attempts)-1]
		s.release("attempts")
		return 0, err
	}
	return a.ID, nil
}

// StoreArtifact writes data under the loot directory and indexes it. When
// the index cannot be saved the file is removed again and nothing is kept.
func (s *Store) StoreArtifact(_ context.Context, category, mimeType, host string, data []byte, filename, originalPath string) (*Artifact, error) {
	if err := os.MkdirAll(s.lootDir, 0o700); err != nil {
		return nil, fmt.Errorf("lootdb: create loot directory: %w", err)
	}

	created := s.now()
	name := fmt.Sprintf("%s_%s_%s_%06d.%s",
		created.Format("20060102150405"),
		sanitize(category),
		sanitize(host),
		rand.Intn(1000000),
		extension(filename, mimeType),
	)
	path := filepath.Join(s.lootDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("lootdb: write artifact: %w", err)
	}

	sum := sha256.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	artifact := Artifact{
		ID:           s.next("artifacts"),
		Host:         host,
		Category:     category,
		MIMEType:     mimeType,
		Filename:     filename,
		OriginalPath: originalPath,
		Path:         path,
		Size:         int64(len(data)),
		SHA256:       hex.EncodeToString(sum[:]),
		CreatedAt:    created,
	}
	s.data.Artifacts = append(s.data.Artifacts, artifact)
	if err := s.persist(); err != nil {
		s.data.Artifacts = s.data.Artifacts[:len(s.data.Artifacts)-1]
		s.release("artifacts")
		os.Remove(path)
		return nil, fmt.Errorf("lootdb: save index: %w", err)
	}
	return &artifact, nil
}

// Attempts returns the journal, oldest first.
func (s *Store) Attempts(_ context.Context) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]Attempt(nil), s.data.Attempts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Artifacts lists stored artifacts, optionally only those taken from host.
func (s *Store) Artifacts(_ context.Context, host string) ([]Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Artifact
	for _, a := range s.data.Artifacts {
		if host == "" || a.Host == host {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) GetArtifact(_ context.Context, id int64) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.data.Artifacts {
		if a.ID == id {
			copy := a
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("artifact %d: %w", id, ErrNotFound)
}

func (s *Store) GetTarget(_ context.Context, id int64) (*Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.data.Targets {
		if t.ID == id {
			copy := t
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("target %d: %w", id, ErrNotFound)
}

// ReadArtifact returns the bytes of a stored artifact.
func (s *Store) ReadArtifact(ctx context.Context, id int64) ([]byte, *Artifact, error) {
	a, err := s.GetArtifact(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, a, fmt.Errorf("lootdb: read artifact %d: %w", id, err)
	}
	return data, a, nil
}

// extension keeps a short suffix from filename, else falls back on the MIME
// type.
func extension(filename, mimeType string) string {
	if ext := strings.TrimPrefix(filepath.Ext(filename), "."); ext != "" && len(ext) < 5 {
		return sanitize(ext)
	}
	switch mimeType {
	case "text/plain":
		return "txt"
	case "text/xml", "application/xml":
		return "xml"
	default:
		return "bin"
	}
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
