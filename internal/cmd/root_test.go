package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "2024-01-01T10:00:00Z")

	expected := "1.2.3 (built 2024-01-01T10:00:00Z)"
	if rootCmd.Version != expected {
		t.Errorf("Expected version %s, got %s", expected, rootCmd.Version)
	}
}

func TestRootCmd(t *testing.T) {
	if rootCmd.Use != "wordspider [domain-list.csv | URLs...]" {
		t.Errorf("Unexpected use line: %s", rootCmd.Use)
	}
	if rootCmd.RunE == nil {
		t.Error("RunE should be set to runSpider")
	}
}

func TestInitConfig(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := `
backend_url: "http://render.local:8050"
retry_budget: 3
user_agent: "TestAgent/1.0"
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfgFile = configFile
	initConfig()

	if viper.ConfigFileUsed() != configFile {
		t.Errorf("Expected config file %s, got %s", configFile, viper.ConfigFileUsed())
	}
	if got := viper.GetString("backend_url"); got != "http://render.local:8050" {
		t.Errorf("backend_url = %s, want value from file", got)
	}

	// Reset for other tests
	cfgFile = ""
	viper.Reset()
}

func TestLoadEntries(t *testing.T) {
	t.Run("csv argument", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "domains.csv")
		content := `"id";"company_id";"website"
"1";"10";"https://example.com"`
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("Failed to write fixture: %v", err)
		}

		entries, err := loadEntries([]string{path})
		if err != nil {
			t.Fatalf("loadEntries() error = %v", err)
		}
		if len(entries) != 1 || entries[0].CompanyID != 10 {
			t.Errorf("loadEntries() = %v, want one entry for company 10", entries)
		}
	})

	t.Run("url arguments", func(t *testing.T) {
		entries, err := loadEntries([]string{"https://a.example.com", "b.example.com"})
		if err != nil {
			t.Fatalf("loadEntries() error = %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("loadEntries() returned %d entries, want 2", len(entries))
		}
	})

	t.Run("bad url", func(t *testing.T) {
		if _, err := loadEntries([]string{""}); err == nil {
			t.Error("loadEntries() accepted an empty URL")
		}
	})
}
