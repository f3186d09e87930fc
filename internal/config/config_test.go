package config

import (
	"os"
	"testing"
)

func TestLoad_AppliesYAMLOverridesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlPath := dir + "/config.yaml"
	writeFile(t, yamlPath, `
chunking:
  maxTokens: 500
embedder:
  baseUrl: https://embeddings.example.com
  model: text-embed-test
  dimension: 16
vectorIndex:
  dsn: localhost:6334
`)

	cfg, err := Load(yamlPath, dir+"/missing.env")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chunking.MaxTokens != 500 {
		t.Fatalf("expected yaml override of maxTokens, got %d", cfg.Chunking.MaxTokens)
	}
	if cfg.Chunking.OverlapTokens != 120 {
		t.Fatalf("expected default overlapTokens to survive, got %d", cfg.Chunking.OverlapTokens)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	yamlPath := dir + "/config.yaml"
	writeFile(t, yamlPath, `
embedder:
  baseUrl: https://embeddings.example.com
  model: text-embed-test
  dimension: 16
vectorIndex:
  dsn: localhost:6334
`)
	t.Setenv("RAGCORE_CHUNKING_MAX_TOKENS", "999")

	cfg, err := Load(yamlPath, dir+"/missing.env")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chunking.MaxTokens != 999 {
		t.Fatalf("expected env override to win, got %d", cfg.Chunking.MaxTokens)
	}
}

func TestLoad_MissingEmbedderConfigFailsValidation(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir+"/missing.yaml", dir+"/missing.env"); err == nil {
		t.Fatalf("expected validation error for missing embedder config")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
