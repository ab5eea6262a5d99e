package cmd

import (
	"fmt"
	"os"

	"github.com/aragora/aragora/internal/config"
	"github.com/spf13/cobra"
)

const envTemplate = `# LLM provider (at least one required to run debates)
OPENAI_API_KEY=
GEMINI_API_KEY=

# Server
PORT=8080
BIND_ADDR=0.0.0.0
ALLOWED_ORIGINS=*
WS_MAX_FRAME=65536
LOG_LEVEL=info
DATA_DIR=data

# Auth (leave AUTH_TOKEN_HMAC_KEY empty to run without authentication)
AUTH_TOKEN_HMAC_KEY=
TOKEN_TTL_SECONDS=3600

# Rate limiting
RATE_LIMIT_PER_MINUTE=60
IP_RATE_LIMIT_PER_MINUTE=120

# Debate defaults
EMBEDDING_PROVIDER=auto
DEBATE_DEFAULT_ROUNDS=5
DEBATE_DEFAULT_CONSENSUS=majority
DEBATE_CONSENSUS_THRESHOLD=0.66
DEBATE_CONVERGENCE_SIMILARITY=0.95
DEBATE_MIN_PARTICIPANTS=2
FLIP_QUALIFICATION_PENALTY=0.0
LEADERBOARD_WEIGHT=1.0

# TLS / HTTP3 (optional; leave unset to serve plain HTTP/1.1)
TLS_CERT_FILE=
TLS_KEY_FILE=
ENABLE_HTTP3=false
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Aragora data directory and .env template",
	Long: `Creates the data directory the Storage Adapter writes to and, if
one does not already exist, a .env template enumerating every
configuration option the engine reads at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(config.Load().DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		fmt.Println("✓ created data directory")

		if _, err := os.Stat(".env"); os.IsNotExist(err) {
			if err := os.WriteFile(".env", []byte(envTemplate), 0644); err != nil {
				return fmt.Errorf("failed to write .env template: %w", err)
			}
			fmt.Println("✓ created .env template")
		} else {
			fmt.Println("✓ .env already exists, left untouched")
		}

		fmt.Println("\nNext steps:")
		fmt.Println("  1. Edit .env and set OPENAI_API_KEY (or GEMINI_API_KEY)")
		fmt.Println("  2. Run: aragora migrate")
		fmt.Println("  3. Run: aragora serve")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
