package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-distantchat/pkg/crypto"
)

const defaultIdentityPath = "./keys/identity.pem"

func identityCmd() *cobra.Command {
	var (
		path      string
		force     bool
		publicOut string
	)

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Create or show the node identity",
		Long: `Create an Ed25519 identity key, or print the id of an existing one.

Examples:
  distantchat identity                        # create ./keys/identity.pem if missing
  distantchat identity --key alice.pem        # use another file
  distantchat identity --force                # replace an existing key
  distantchat identity --public-out alice.pub # write the public key for peers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if force {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return err
				}
			}

			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return fmt.Errorf("failed to create key directory: %w", err)
			}

			id, created, err := crypto.LoadOrCreateIdentity(path)
			if err != nil {
				return err
			}

			if created {
				fmt.Printf("✅ New identity saved to %s\n", path)
			} else {
				fmt.Printf("✓ Identity loaded from %s\n", path)
			}
			fmt.Printf("   ID: %s\n", id.ID)

			if publicOut != "" {
				pemData, err := id.ExportPublicKeyPEM()
				if err != nil {
					return err
				}
				if err := os.WriteFile(publicOut, pemData, 0644); err != nil {
					return fmt.Errorf("failed to write public key: %w", err)
				}
				fmt.Printf("✅ Public key written to %s\n", publicOut)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "key", defaultIdentityPath, "Path to the identity key file")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing key")
	cmd.Flags().StringVar(&publicOut, "public-out", "", "Also write the PEM public key to this file (for --trusted-key on peers)")

	return cmd
}
