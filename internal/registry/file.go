package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	logx "predictbot/pkg/logx"
)

// fileBackend keeps the registry as a single JSON object keyed by the decimal user id.
//
// Files:
//   - <path>              (registry document, replaced atomically)
//   - <prefix>.runs.jsonl (append-only dispatch audit)
type fileBackend struct {
	log     logx.Logger
	path    string
	runPath string

	mu sync.Mutex
}

type fileRecord struct {
	ID        *int64  `json:"id"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Username  *string `json:"username"`
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("registry path is required for file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &fileBackend{
		log:     log,
		path:    path,
		runPath: filepath.Join(dir, base+".runs.jsonl"),
	}, nil
}

func (b *fileBackend) Read(ctx context.Context) (Registry, error) {
	_ = ctx
	b.mu.Lock()
	data, err := os.ReadFile(b.path)
	b.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return Registry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return b.decode(data)
}

func (b *fileBackend) decode(data []byte) (Registry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Registry{}, nil
	}
	var raw map[string]fileRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	out := make(Registry, len(raw))
	for key, rec := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			b.log.Warn("registry entry skipped: bad key", logx.String("key", key))
			continue
		}
		if rec.ID != nil && *rec.ID != id {
			b.log.Warn("registry entry id mismatch; using key", logx.Int64("key", id), logx.Int64("id", *rec.ID))
		}
		out[id] = UserProfile{ID: id, FirstName: rec.FirstName, LastName: rec.LastName, Username: rec.Username}
	}
	return out, nil
}

func encodeRegistry(r Registry) ([]byte, error) {
	doc := make(map[string]UserProfile, len(r))
	for id, p := range r {
		p.ID = id
		doc[strconv.FormatInt(id, 10)] = p
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *fileBackend) Write(ctx context.Context, r Registry) error {
	_ = ctx
	data, err := encodeRegistry(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeFileAtomic(b.path, data, 0o600)
}

// writeFileAtomic writes data to a temp file in the target directory and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func (b *fileBackend) AppendRun(ctx context.Context, rec RunRecord) error {
	_ = ctx
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	f, err := os.OpenFile(b.runPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (b *fileBackend) Close() error { return nil }
