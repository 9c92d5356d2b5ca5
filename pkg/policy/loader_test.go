package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoader_LoadRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reserved.rego")
	writeFile(t, path, "# Reserved name prefixes\n# for temporary machines\n"+reservedPrefixRego)

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "reserved" {
		t.Errorf("Expected name reserved, got %s", p.Name)
	}
	if p.Description != "Reserved name prefixes for temporary machines" {
		t.Errorf("Unexpected description: %q", p.Description)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected severity %s, got %s", SeverityError, p.Severity)
	}
	if !p.Enabled {
		t.Error("Loaded policy should be enabled")
	}
	if p.Source != path {
		t.Errorf("Expected source %s, got %s", path, p.Source)
	}
}

func TestLoader_LoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	writeFile(t, path, `{"name":"json-policy","severity":"warning","rego":"package p\n\nimport rego.v1\n\ndeny contains \"x\" if { false }\n"}`)

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	if policies[0].Name != "json-policy" {
		t.Errorf("Expected name json-policy, got %s", policies[0].Name)
	}
	if policies[0].Severity != SeverityWarning {
		t.Errorf("Expected severity %s, got %s", SeverityWarning, policies[0].Severity)
	}
	if !policies[0].Enabled {
		t.Error("Loaded policy should be enabled")
	}
}

func TestLoader_LoadDirectorySkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), reservedPrefixRego)
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), reservedPrefixRego)
	writeFile(t, filepath.Join(dir, "bad.json"), "{not json")
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(policies))
	}
}

func TestLoader_ExplicitFileErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, "{not json")
	txt := filepath.Join(dir, "policy.txt")
	writeFile(t, txt, "x")

	for _, path := range []string{bad, filepath.Join(dir, "missing.rego"), txt} {
		if _, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{path}); err == nil {
			t.Errorf("Expected error loading %s", filepath.Base(path))
		}
	}
}

func TestLoader_WatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), reservedPrefixRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var reloaded [][]Policy
	loader := NewLoader(zerolog.Nop())
	err := loader.Watch(ctx, []string{dir}, func(_ context.Context, policies []Policy) error {
		mu.Lock()
		defer mu.Unlock()
		reloaded = append(reloaded, policies)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer func() { _ = loader.Stop() }()

	writeFile(t, filepath.Join(dir, "b.rego"), reservedPrefixRego)

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		done := len(reloaded) > 0 && len(reloaded[len(reloaded)-1]) == 2
		mu.Unlock()
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for policies to reload")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
