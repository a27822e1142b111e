// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luxfi/fhevm/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const promptKeyFlag = "prompt-key"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fhevm",
		Short: "Client for FHE-enabled smart contracts",
		Long: `fhevm encrypts values for, and decrypts handles produced by, smart
contracts that compute on fully homomorphic encrypted data.

Configuration is read from flags, the environment (RPC_URL, PRIVATE_KEY,
...) and an optional JSON or YAML file, in that order of precedence.`,
		Version:       fmt.Sprintf("%s (built %s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	config.AddFlags(flags)
	flags.Bool(promptKeyFlag, false, "Read the private key from the terminal")

	rootCmd.AddCommand(
		newEncryptCmd(),
		newDecryptCmd(),
		newPublicDecryptCmd(),
		newCanDecryptCmd(),
		newComputeCmd(),
		newKeysCmd(),
		newServeCmd(),
	)
	return rootCmd
}
