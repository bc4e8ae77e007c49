package predictions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "predictbot/pkg/logx"
)

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "quotes.json")
	body := `[
		{"id": 10, "text": "X"},
		{"id": 11, "text": "Y"},
		{"id": 10, "text": "dup"},
		{"text": "no id"},
		{"id": 12, "text": "  "}
	]`
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))

	pool := Load(p, logx.Nop())
	assert.Equal(t, []Prediction{{ID: 10, Text: "X"}, {ID: 11, Text: "Y"}}, pool.All())
}

func TestLoadMissingOrMalformedYieldsEmptyPool(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, Load(filepath.Join(dir, "absent.json"), logx.Nop()).Empty())

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"id": 1}`), 0o600))
	assert.True(t, Load(bad, logx.Nop()).Empty())
}

func TestExcept(t *testing.T) {
	pool := NewPool([]Prediction{{ID: 1, Text: "a"}, {ID: 2, Text: "b"}, {ID: 3, Text: "c"}})
	got := pool.Except(map[int64]struct{}{2: {}})
	assert.Equal(t, []Prediction{{ID: 1, Text: "a"}, {ID: 3, Text: "c"}}, got)

	var nilPool *Pool
	assert.Zero(t, nilPool.Len())
	assert.Empty(t, nilPool.Except(nil))
}
