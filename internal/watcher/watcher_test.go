package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.NotNil(t, watcher.logger)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
}

func TestFileWatcherAddPath(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	assert.NoError(t, watcher.AddPath(dir))
	assert.Equal(t, []string{dir}, watcher.WatchList())

	assert.Error(t, watcher.AddPath(filepath.Join(dir, "missing")))
	assert.Error(t, watcher.AddPath(""))
	assert.Error(t, watcher.AddPath("bad\x00path"))
}

func TestAddRecursive(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	for _, sub := range []string{"templates/partials", ".git/objects", "vendor/lib"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}

	require.NoError(t, watcher.AddRecursive(dir))
	assert.Equal(t, []string{
		dir,
		filepath.Join(dir, "templates"),
		filepath.Join(dir, "templates", "partials"),
	}, watcher.WatchList())
}

func TestFileWatcherDeliversTemplateChanges(t *testing.T) {
	watcher, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	output := filepath.Join(dir, "report.txt")

	require.NoError(t, watcher.AddRecursive(dir))
	watcher.AddFilter(TemplateOrIncludeFilter)
	watcher.AddFilter(ExcludeFilter(output))

	var mu sync.Mutex
	var seen []string
	watcher.AddHandler(func(ctx context.Context, events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			seen = append(seen, filepath.Base(e.Path))
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.tt"), []byte("<#= 1 #>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "common.ttinclude"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(output, []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("n"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return assert.ObjectsAreEqual([]string{"common.ttinclude", "report.tt"}, dedupe(seen))
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, seen, "report.txt")
	assert.NotContains(t, seen, "notes.md")
}

func TestFileWatcherWatchesNewDirectories(t *testing.T) {
	watcher, err := NewFileWatcher(20*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	require.NoError(t, watcher.AddRecursive(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))

	assert.Eventually(t, func() bool {
		for _, p := range watcher.WatchList() {
			if p == sub {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if len(out) == 2 && out[0] > out[1] {
		out[0], out[1] = out[1], out[0]
	}
	return out
}

func TestFilters(t *testing.T) {
	tests := []struct {
		name     string
		filter   FileFilter
		path     string
		expected bool
	}{
		{"template", TemplateFilter, "gen/model.tt", true},
		{"template upper", TemplateFilter, "gen/MODEL.TT", true},
		{"t4 template", TemplateFilter, "gen/model.t4", true},
		{"not a template", TemplateFilter, "gen/model.go", false},
		{"include", IncludeFilter, "shared/common.ttinclude", true},
		{"template is not include", IncludeFilter, "gen/model.tt", false},
		{"either", TemplateOrIncludeFilter, "shared/common.t4include", true},
		{"vendor", NoVendorFilter, "vendor/x/model.tt", false},
		{"nested vendor", NoVendorFilter, "a/vendor/model.tt", false},
		{"not vendor", NoVendorFilter, "vendored/model.tt", true},
		{"git", NoGitFilter, "repo/.git/HEAD", false},
		{"not git", NoGitFilter, "repo/model.tt", true},
		{"excluded", ExcludeFilter("out/model.txt"), "out/./model.txt", false},
		{"not excluded", ExcludeFilter("out/model.txt"), "out/other.txt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.filter(tt.path))
		})
	}
}

func TestDebouncer(t *testing.T) {
	debouncer := NewDebouncer(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go debouncer.start(ctx)

	debouncer.events <- ChangeEvent{Path: "b.tt", Type: EventTypeCreated}
	debouncer.events <- ChangeEvent{Path: "a.tt", Type: EventTypeModified}
	debouncer.events <- ChangeEvent{Path: "b.tt", Type: EventTypeModified}

	select {
	case events := <-debouncer.output:
		require.Len(t, events, 2)
		assert.Equal(t, "a.tt", events[0].Path)
		assert.Equal(t, "b.tt", events[1].Path)
		assert.Equal(t, EventTypeModified, events[1].Type, "latest event wins")
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer did not flush")
	}
}

func TestHandlerErrorsDoNotStopProcessing(t *testing.T) {
	watcher, err := NewFileWatcher(10*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	calls := make(chan struct{}, 2)
	watcher.AddHandler(func(ctx context.Context, events []ChangeEvent) error {
		calls <- struct{}{}
		return assert.AnError
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.processEvents(ctx)

	watcher.debouncer.output <- []ChangeEvent{{Path: "a.tt"}}
	watcher.debouncer.output <- []ChangeEvent{{Path: "b.tt"}}

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called")
		}
	}
}
