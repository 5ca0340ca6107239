package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Length int
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a hex-encoded HMAC key",
		Long: `Generate a random HMAC key for request signing and replication payloads.

The key is printed hex-encoded. Pass it to serve through
SUSPENSE_SECURITY_KEY, security.key in the config file, or a file named by
security.key_file. A raw SUSPENSE_HMAC_KEY overrides all of them.

Example:
  suspensed keygen --length 64`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Length, "length", security.MinKeyLength, "key length in bytes")

	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	keys := security.NewKeyStorage()
	defer keys.ClearKey()
	if err := keys.GenerateNewKey(opts.Length); err != nil {
		_ = f.Error(ErrCodeKey, err.Error(), map[string]int{"min_length": security.MinKeyLength})
		return WrapExitError(ExitCommandError, fmt.Sprintf("cannot generate a %d byte key", opts.Length), err)
	}
	raw, err := keys.GetKey()
	if err != nil {
		return WrapExitError(ExitCommandError, "read generated key", err)
	}
	defer security.SecureZero(raw)

	key := hex.EncodeToString(raw)
	if f.JSON() {
		return f.Success(map[string]any{"key": key, "length": opts.Length})
	}
	return f.Success(key)
}
