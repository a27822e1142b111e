// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/api"
	"github.com/luxfi/fhevm/types"
)

// runWithApp builds the app and hands it to fn.
func runWithApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

func newEncryptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encrypt VALUE:TYPE [VALUE:TYPE...]",
		Short: "Encrypt values for the configured contract",
		Long: `Encrypt one or more values. Each argument is a decimal or 0x-hex value
and an encrypted type, e.g. 42:euint8. With several arguments either every
value is encrypted or none is.`,
		Example: "  fhevm encrypt 1000:euint64 0xff:euint8",
		Args:    cobra.MinimumNArgs(1),
		RunE: runWithApp(func(cmd *cobra.Command, a *app, args []string) error {
			items := make([]fhevm.EncryptInput, len(args))
			for i, arg := range args {
				item, err := parseEncryptArg(arg)
				if err != nil {
					return err
				}
				items[i] = item
			}

			handles, err := fhevm.EncryptBatch(cmd.Context(), a.session, items)
			if err != nil {
				return err
			}
			out := make([]api.EncryptResponse, len(handles))
			for i, h := range handles {
				out[i] = api.EncryptResponse{
					Handle:     h.Handle.Hex(),
					Type:       h.Type.String(),
					InputProof: "0x" + hex.EncodeToString(h.InputProof),
					Timestamp:  h.Timestamp.UnixMilli(),
				}
			}
			return printJSON(cmd, out)
		}),
	}
	return cmd
}

func newDecryptCmd() *cobra.Command {
	var contract, user string
	cmd := &cobra.Command{
		Use:   "decrypt HANDLE [HANDLE...]",
		Short: "Decrypt handles with a signed grant",
		Long: `Decrypt one or more handles the user is allowed to read. Requires a
private key; the first decryption signs a grant that is reused until it
expires or the platform key changes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runWithApp(func(cmd *cobra.Command, a *app, args []string) error {
			if contract == "" {
				contract = a.cfg.ContractAddress
			}
			if user == "" && a.session.CanWrite() {
				user = a.session.Signer().Address().Hex()
			}

			items := make([]fhevm.DecryptInput, len(args))
			for i, arg := range args {
				handle, err := types.ParseHandle(arg)
				if err != nil {
					return err
				}
				items[i] = fhevm.DecryptInput{
					Handle:          handle,
					ContractAddress: contract,
					UserAddress:     user,
				}
			}

			values, err := fhevm.DecryptBatch(cmd.Context(), a.session, items)
			if err != nil {
				return err
			}
			out := make([]api.DecryptResponse, len(values))
			for i, v := range values {
				out[i] = decryptResponse(v)
			}
			return printJSON(cmd, out)
		}),
	}
	cmd.Flags().StringVar(&contract, "contract", "", "Contract holding the handles (defaults to contract-address)")
	cmd.Flags().StringVar(&user, "user", "", "User to decrypt for (defaults to the signer)")
	return cmd
}

func newPublicDecryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "public-decrypt HANDLE",
		Short: "Decrypt a publicly decryptable handle",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(cmd *cobra.Command, a *app, args []string) error {
			handle, err := types.ParseHandle(args[0])
			if err != nil {
				return err
			}
			v, err := fhevm.PublicDecrypt(cmd.Context(), a.session, handle)
			if err != nil {
				return err
			}
			return printJSON(cmd, decryptResponse(v))
		}),
	}
}

func newCanDecryptCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "can-decrypt HANDLE",
		Short: "Report whether a user may decrypt a handle",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(cmd *cobra.Command, a *app, args []string) error {
			handle, err := types.ParseHandle(args[0])
			if err != nil {
				return err
			}
			if user == "" && a.session.CanWrite() {
				user = a.session.Signer().Address().Hex()
			}
			allowed, err := fhevm.CanDecrypt(cmd.Context(), a.session, handle, user)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.CanDecryptResponse{Allowed: allowed})
		}),
	}
	cmd.Flags().StringVar(&user, "user", "", "User to check (defaults to the signer)")
	return cmd
}

func newComputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compute OPERATION HANDLE HANDLE",
		Short: "Run a homomorphic operation through the contract",
		Long: `Send a transaction calling the contract method named OPERATION (add,
subtract or multiply) on two handles. Requires a private key. The result
handle is produced by the contract once the transaction is mined.`,
		Example: "  fhevm compute add 0x01...a 0x01...b",
		Args:    cobra.ExactArgs(3),
		RunE: runWithApp(func(cmd *cobra.Command, a *app, args []string) error {
			op, err := parseOperation(args[0])
			if err != nil {
				return err
			}
			lhs, err := types.ParseHandle(args[1])
			if err != nil {
				return err
			}
			rhs, err := types.ParseHandle(args[2])
			if err != nil {
				return err
			}
			txHash, err := fhevm.Compute(cmd.Context(), a.session, op, lhs, rhs)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.ComputeResponse{TxHash: txHash.Hex(), Operation: string(op)})
		}),
	}
}

func newKeysCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Print the platform public key",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if refresh {
				if err := a.keys.Refresh(cmd.Context()); err != nil {
					return err
				}
			}
			key, err := a.keys.PublicKey(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, api.KeysResponse{PublicKey: "0x" + hex.EncodeToString(key)})
		}),
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Rotate and re-fetch the key first")
	return cmd
}

func parseEncryptArg(arg string) (fhevm.EncryptInput, error) {
	value, typeName, ok := strings.Cut(arg, ":")
	if !ok || value == "" {
		return fhevm.EncryptInput{}, fmt.Errorf("invalid argument %q, want VALUE:TYPE", arg)
	}
	typ, err := types.ParseEncryptedType(typeName)
	if err != nil {
		return fhevm.EncryptInput{}, err
	}
	return fhevm.EncryptInput{Value: value, Type: typ}, nil
}

func parseOperation(arg string) (fhevm.Operation, error) {
	op := fhevm.Operation(strings.ToLower(arg))
	if !op.Valid() {
		return "", fmt.Errorf("unsupported operation %q, want add, subtract or multiply", arg)
	}
	return op, nil
}

func decryptResponse(v *fhevm.DecryptedValue) api.DecryptResponse {
	return api.DecryptResponse{
		Value:     v.Value.String(),
		Handle:    v.Handle.Hex(),
		Timestamp: v.Timestamp.UnixMilli(),
	}
}
