// ABOUTME: Interactive config file generator for assistant-manager

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("assistant-manager configuration setup")
	fmt.Println("=====================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "assistant-manager.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Operators ---")
	ownerID := prompt(reader, "Owner operator id", "")
	if n, err := strconv.ParseInt(ownerID, 10, 64); err != nil || n <= 0 {
		return fmt.Errorf("owner id must be a positive number")
	}

	fmt.Println("\n--- Pacing ---")
	minDelay := prompt(reader, "Minimum delay between bulk steps", "3s")
	healthInterval := prompt(reader, "Health check interval", "5m")

	fmt.Println("\n--- Database ---")
	driver := prompt(reader, "Driver (sqlite/mongo)", "sqlite")
	var dbPath, mongoURI string
	if driver == "mongo" {
		mongoURI = prompt(reader, "MongoDB URI", "mongodb://localhost:27017")
	} else {
		dbPath = prompt(reader, "SQLite database path", defaultDbPath)
	}

	fmt.Println("\n--- Matrix ---")
	matrixEnabled := isYes(prompt(reader, "Enable Matrix operator bot?", "yes"))
	var homeserver, userID, operatorUser string
	if matrixEnabled {
		homeserver = prompt(reader, "Homeserver URL", "https://matrix.org")
		userID = prompt(reader, "Bot user id", "@assistant-manager:matrix.org")
		operatorUser = prompt(reader, "Owner's Matrix user id", "")
	}

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generating credentials key: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# assistant-manager configuration\n")
	cfg.WriteString("# Generated by assistant-manager init\n\n")

	cfg.WriteString(fmt.Sprintf("owner_id: %s\n\n", ownerID))

	cfg.WriteString("bulk:\n")
	cfg.WriteString(fmt.Sprintf("  min_delay: %q\n\n", minDelay))

	cfg.WriteString("health:\n")
	cfg.WriteString(fmt.Sprintf("  interval: %q\n", healthInterval))
	cfg.WriteString("  probe_timeout: \"15s\"\n")
	cfg.WriteString("  concurrency: 4\n\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  driver: %q\n", driver))
	if driver == "mongo" {
		cfg.WriteString("  mongo:\n")
		cfg.WriteString(fmt.Sprintf("    uri: %q\n", mongoURI))
		cfg.WriteString("    database: \"assistant_manager\"\n")
	} else {
		cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	}
	cfg.WriteString("\n")

	cfg.WriteString("security:\n")
	cfg.WriteString(fmt.Sprintf("  credentials_key: %q\n\n", base64.StdEncoding.EncodeToString(key)))

	cfg.WriteString("matrix:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", matrixEnabled))
	if matrixEnabled {
		cfg.WriteString(fmt.Sprintf("  homeserver: %q\n", homeserver))
		cfg.WriteString(fmt.Sprintf("  user_id: %q\n", userID))
		cfg.WriteString("  access_token: \"${ASSISTANT_MANAGER_MATRIX_TOKEN}\"\n")
		cfg.WriteString("  command_prefix: \"!\"\n")
		if operatorUser != "" {
			cfg.WriteString("  operators:\n")
			cfg.WriteString(fmt.Sprintf("    %q: %s\n", operatorUser, ownerID))
		}
	}
	cfg.WriteString("\n")

	cfg.WriteString("http:\n")
	cfg.WriteString("  addr: \"127.0.0.1:8090\"\n\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds the credentials key.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	if matrixEnabled {
		fmt.Println("Set ASSISTANT_MANAGER_MATRIX_TOKEN (or add it to .env) before starting.")
	}
	fmt.Println("\nTo start the control plane:")
	fmt.Printf("  assistant-manager serve\n")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
