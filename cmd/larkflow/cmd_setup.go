package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/larkflow/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("larkflow setup")
		fmt.Println("Press Enter to accept the value shown in brackets.")
		fmt.Println()

		cfg.Lark.AppID = prompt(scanner, "Lark App ID (cli_...)", cfg.Lark.AppID)
		cfg.Lark.AppSecret = prompt(scanner, "Lark App Secret", cfg.Lark.AppSecret)
		cfg.Backend.URL = prompt(scanner, "Flowise prediction URL", cfg.Backend.URL)
		cfg.Backend.APIKey = prompt(scanner, "Flowise API key (optional)", cfg.Backend.APIKey)

		port := prompt(scanner, "HTTP port", strconv.Itoa(cfg.HTTP.Port))
		if n, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = n
		}

		cfg.Image.Mode = prompt(scanner, "Image mode (none, retrieval, reupload)", cfg.Image.Mode)
		switch cfg.Image.Mode {
		case "retrieval":
			cfg.Image.RetrievalURL = prompt(scanner, "Image retrieval URL", cfg.Image.RetrievalURL)
		case "reupload":
			cfg.Image.SourceURL = prompt(scanner, "Fallback image source URL (optional)", cfg.Image.SourceURL)
			cfg.Image.UploadURL = prompt(scanner, "Image upload URL", cfg.Image.UploadURL)
			cfg.Image.UploadToken = prompt(scanner, "Image upload token", cfg.Image.UploadToken)
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		if check := config.ValidateApp(cfg.Lark.AppID, cfg.Lark.AppSecret); check.Code != 0 {
			fmt.Println("Warning:", check.Message)
		}
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
