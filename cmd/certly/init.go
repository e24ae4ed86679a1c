package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foxzi/certly/internal/config"
)

var (
	initOutput    string
	initDataDir   string
	initAPIKey    string
	initLMSDriver string
	initFixtures  string
	initVerifyURL string
	initForce     bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a certly configuration file",
	Long: `Create a configuration file with sensible defaults.

Examples:
  # Defaults below /var/lib/certly with a generated API key
  certly init

  # Standalone setup with a fixtures-backed directory
  certly init --data-dir ./data --lms-driver memory --fixtures fixtures.yaml -o certly.yaml`,
	Args: exactArgs(0),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/certly", "Data directory for the databases and files")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initLMSDriver, "lms-driver", config.DriverSQLite, "LMS directory driver: sqlite, memory")
	initCmd.Flags().StringVar(&initFixtures, "fixtures", "", "LMS fixtures file loaded at startup")
	initCmd.Flags().StringVar(&initVerifyURL, "verify-url", "", "Public verification URL")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initOutput); err == nil && !initForce {
		return usagef("%s already exists (use --force to overwrite)", initOutput)
	}
	if dir := filepath.Dir(initOutput); dir != "." {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return usagef("output directory %s does not exist", dir)
		}
	}
	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
	}

	content := generateConfig()
	if _, err := config.Parse([]byte(content)); err != nil {
		return usagef("generated configuration is invalid: %w", err)
	}
	if err := os.WriteFile(initOutput, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration saved to: %s\n", initOutput)
	fmt.Printf("API key: %s\n", initAPIKey)
	fmt.Println()
	fmt.Println("Start the server:")
	fmt.Printf("  certly serve -c %s\n", initOutput)
	return nil
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig() string {
	lmsSection := fmt.Sprintf(`lms:
  driver: %s
  path: "%s/lms.db"`, initLMSDriver, initDataDir)
	if initFixtures != "" {
		lmsSection += fmt.Sprintf("\n  fixtures: \"%s\"", initFixtures)
	}

	verifyURL := initVerifyURL
	if verifyURL == "" {
		verifyURL = "http://localhost:8080/verify"
	}

	return fmt.Sprintf(`# certly configuration
# Generated by: certly init

storage:
  path: "%s/certly.db"
  retention:
    events_max_age: 2160h  # 90 days
    cleanup_interval: 1h

files:
  path: "%s/files"

%s

api:
  listen_addr: ":8080"
  api_key: "%s"
  max_header_bytes: 1048576  # 1 MB
  max_upload_bytes: 33554432  # 32 MB
  read_timeout: 30s
  write_timeout: 60s
  idle_timeout: 60s
  # tls:
  #   cert_file: "/etc/certly/cert.pem"
  #   key_file: "/etc/certly/key.pem"
  #   acme:
  #     enabled: true
  #     email: "admin@example.com"
  #     domains: ["certs.example.com"]

render:
  creator: "certly"
  date_format: "dmy"

verification:
  url: "%s"
  code_format: "alnum"
  # rate_limit:
  #   per_ip:
  #     per_hour: 60
  #   per_code:
  #     per_day: 100

archive:
  max_size: 67108864  # 64 MB

logging:
  level: "info"
  format: "json"

metrics:
  enabled: false
  listen_addr: ":9090"
  path: "/metrics"
`,
		initDataDir,
		initDataDir,
		lmsSection,
		initAPIKey,
		verifyURL,
	)
}
