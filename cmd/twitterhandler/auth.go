package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/SoCaTel/data-handlers/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Twitter API credentials",
	Long: `Manage stored Twitter API credentials securely.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (TWH_CONSUMER_KEY and friends)

Register an application at https://developer.twitter.com to obtain a
consumer key/secret pair and an access token/secret pair.`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [label]",
	Short: "Store Twitter API credentials securely",
	Long: `Store a Twitter API credential set under a label.

You will be prompted for:
  - Label (if not provided)
  - Consumer key and secret
  - Access token and secret

Secrets are hidden as you type.`,
	Example: `  # Interactive login
  twitterhandler auth login

  # Store under a specific label
  twitterhandler auth login socatel`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout <label>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager()
		if err != nil {
			return fmt.Errorf("failed to initialize credential manager: %w", err)
		}
		if err := manager.Delete(args[0]); err != nil {
			return err
		}
		fmt.Println("Credentials removed:", args[0])
		return nil
	},
}

// authListCmd represents the auth list command
var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored credential sets",
	Long:  `List all stored credential sets with secrets masked.`,
	RunE:  runAuthList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(authListCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	var label string
	if len(args) > 0 {
		label = args[0]
	} else {
		fmt.Print("Label for this credential set: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read label: %w", err)
		}
		label = strings.TrimSpace(input)
	}

	if label == "" {
		return fmt.Errorf("label is required")
	}

	if existing, _ := manager.Retrieve(label); existing != nil {
		fmt.Printf("Credential set %q already exists. Update it? (y/N): ", label)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Println("\nEnter your Twitter API keys (secrets are hidden as you type):")
	fmt.Println()

	consumerKey, err := readInput(reader, "Consumer key (API key): ")
	if err != nil {
		return err
	}
	consumerSecret, err := readSecret("Consumer secret (API secret): ")
	if err != nil {
		return err
	}
	accessToken, err := readInput(reader, "Access token: ")
	if err != nil {
		return err
	}
	accessSecret, err := readSecret("Access token secret: ")
	if err != nil {
		return err
	}

	account := &auth.Account{
		Label:          label,
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		AccessToken:    accessToken,
		AccessSecret:   accessSecret,
		LastModified:   time.Now(),
	}

	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	fmt.Println("\nCredentials stored:", label)
	fmt.Println("\nStart a harvest with:")
	fmt.Printf("  twitterhandler feed --account %s\n", label)
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Println("No stored credential sets. Use 'twitterhandler auth login' to add one.")
		return nil
	}

	fmt.Println("Stored credential sets:")
	fmt.Println()
	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Printf("%d. Label: %s\n", i+1, sanitized.Label)
		fmt.Printf("   Consumer Key: %s\n", sanitized.ConsumerKey)
		fmt.Printf("   Access Token: %s\n", sanitized.AccessToken)
		fmt.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}
	return nil
}

// readInput reads a visible line from stdin
func readInput(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	value := strings.TrimSpace(input)
	if value == "" {
		return "", fmt.Errorf("value is required")
	}
	return value, nil
}

// readSecret reads a line from stdin without echoing
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			value := strings.TrimSpace(string(secret))
			if value == "" {
				return "", fmt.Errorf("value is required")
			}
			return value, nil
		}
	}

	// Fallback to regular input when stdin is not a terminal
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(input)
	if value == "" {
		return "", fmt.Errorf("value is required")
	}
	return value, nil
}
