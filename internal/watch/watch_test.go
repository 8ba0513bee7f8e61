package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceOf(t *testing.T) {
	w := &Watcher{root: "/grading"}
	tests := []struct {
		path string
		name string
		ok   bool
	}{
		{"/grading/alice", "alice", true},
		{"/grading/alice/0-raw/main.c", "alice", true},
		{"/grading/alice/1-build/main", "", false},
		{"/grading/alice/2-output/C1/stdout.log", "", false},
		{"/grading/.git/HEAD", "", false},
		{"/grading/_template/0-raw", "", false},
		{"/grading", "", false},
		{"/elsewhere/x", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			name, ok := w.workspaceOf(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestFlushReportsSettledRawWorkspaces(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "alice", "0-raw"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bob"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "carol", "0-raw"), 0755))

	var got []string
	w := &Watcher{root: root, quiet: time.Second, logger: zerolog.Nop(), onReady: func(names []string) {
		got = append(got, names...)
	}}
	now := time.Now()
	w.pending = map[string]time.Time{
		"carol": now.Add(-2 * time.Second),
		"alice": now.Add(-2 * time.Second),
		"bob":   now.Add(-2 * time.Second),
		"dave":  now,
	}

	w.flush(now)
	assert.Equal(t, []string{"alice", "carol"}, got)
	assert.Equal(t, []string{"dave"}, keys(w.pending))
}

func keys(m map[string]time.Time) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestWatcherSeesNewSubmission(t *testing.T) {
	root := t.TempDir()
	ready := make(chan []string, 4)
	w, err := New(root, 100*time.Millisecond, zerolog.Nop(), func(names []string) { ready <- names })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	raw := filepath.Join(root, "alice", "0-raw")
	require.NoError(t, os.MkdirAll(raw, 0755))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(raw, "main.c"), []byte("int main(){}"), 0644))

	select {
	case names := <-ready:
		assert.Equal(t, []string{"alice"}, names)
	case <-time.After(5 * time.Second):
		t.Fatal("workspace never reported")
	}
}
