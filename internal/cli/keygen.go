package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/galileoChr/ai-model-builder-app/internal/security"
	"github.com/galileoChr/ai-model-builder-app/pkg/utils"
)

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	var dir string
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the ed25519 artifact signing key pair",
		Long: `Generate the ed25519 key pair the server signs artifacts with and
write it hex encoded to server.pub and server.priv in --dir.

Example:
  modelforge keygen --dir ./data/keys`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			pubPath := filepath.Join(dir, security.PublicKeyFile)
			privPath := filepath.Join(dir, security.PrivateKeyFile)

			if _, err := os.Stat(privPath); err == nil && !force {
				return out.Error(ExitCommandError, "key pair already exists", errors.New(privPath+" (use --force to replace it)"))
			}
			pub, priv, err := security.GenerateKeyPair()
			if err != nil {
				return out.Error(ExitFailure, "keygen error", err)
			}
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return out.Error(ExitCommandError, "create key directory", err)
			}
			if err := security.SaveKeyPair(pub, priv, pubPath, privPath); err != nil {
				return out.Error(ExitCommandError, "save key pair", err)
			}

			pubHex := hex.EncodeToString(pub)
			fingerprint := utils.HashString(pubHex)[:16]
			return out.Success(map[string]string{
				"public_key":  pubHex,
				"fingerprint": fingerprint,
				"dir":         dir,
			}, func(w io.Writer) {
				fmt.Fprintf(w, "wrote %s and %s\n", pubPath, privPath)
				fmt.Fprintf(w, "fingerprint: %s\n", fingerprint)
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", filepath.Join("data", "keys"), "directory for server.pub and server.priv")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key pair")
	return cmd
}
