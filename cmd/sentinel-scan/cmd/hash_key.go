package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/sentinelscan/internal/domain/auth"
)

var hashKeySHA256 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate a hash for an API key",
	Long: `Generate a hash of an API key for use in config.

By default the output is an Argon2id hash in PHC format, suitable for
the auth.api_key_hashes list. Pass --sha256 for the legacy
"sha256:<hex>" format; the server accepts both.

Example:
  sentinel-scan hash-key "my-secret-api-key"
  # Output: $argon2id$v=19$m=48128,t=1,p=1$...

Security note: The key will appear in shell history.
Consider clearing history after use or using an environment variable:
  sentinel-scan hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if hashKeySHA256 {
			fmt.Printf("sha256:%s\n", auth.HashKey(key))
			return nil
		}
		hash, err := auth.HashKeyArgon2id(key)
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeySHA256, "sha256", false, "Emit a sha256:<hex> hash instead of Argon2id")
	rootCmd.AddCommand(hashKeyCmd)
}
