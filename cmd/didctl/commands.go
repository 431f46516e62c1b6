package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"didledger/internal/anchor/ethereum"
	"didledger/internal/anchor/node"
	"didledger/internal/did/client"
	"didledger/internal/did/keys"
	"didledger/internal/did/models"
	"didledger/internal/did/service"
	liststrings "didledger/pkg/platform/strings"
)

const signingKeyEnv = "DIDLEDGER_SIGNING_KEY"

type rootOptions struct {
	server  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "didctl",
		Short:         "Manage DID documents on a didledger server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	server := os.Getenv("DIDLEDGER_URL")
	if server == "" {
		server = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", server, "didledger base URL (env DIDLEDGER_URL)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(
		keygenCmd(),
		createCmd(opts),
		resolveCmd(opts),
		updateCmd(opts),
		deactivateCmd(opts),
		historyCmd(opts),
		statusCmd(opts),
	)
	return cmd
}

func (o *rootOptions) client() (*client.Client, error) {
	return client.New(o.server)
}

func (o *rootOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func keygenCmd() *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 signing key and show the DID it controls",
		Long: `Generate a fresh 32-byte Ed25519 seed.

The seed is printed once and never stored. Keep it secret: whoever holds it
controls the DID derived from it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seed, err := keys.GenerateSeed(rand.Reader)
			if err != nil {
				return err
			}
			pub, err := keys.DerivePublicKey(seed)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"signing_key":       seed,
				"public_key_base58": keys.EncodeBase58(pub),
				"did":               models.DeriveID(method, pub),
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", service.DefaultMethod, "DID method of the derived identifier")
	return cmd
}

func createCmd(opts *rootOptions) *cobra.Command {
	var key string
	var services []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register the DID controlled by a signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signingKey, err := resolveKey(key)
			if err != nil {
				return err
			}
			svcs, err := parseServices(services)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			doc, err := c.Create(ctx, signingKey, svcs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Base58 signing key (env "+signingKeyEnv+")")
	cmd.Flags().StringArrayVar(&services, "service", nil, "initial service as id,type,endpoint (repeatable)")
	return cmd
}

func resolveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <did>",
		Short: "Print the current document of a DID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			doc, err := c.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
}

func updateCmd(opts *rootOptions) *cobra.Command {
	var (
		key            string
		file           string
		addServices    []string
		removeServices []string
		sendKey        bool
	)
	cmd := &cobra.Command{
		Use:   "update <did>",
		Short: "Replace the keys, authentication or services of a DID",
		Long: `Update a DID document.

The new document is read from --file (use - for stdin), or derived from the
current document by applying --add-service and --remove-service.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signingKey, err := resolveKey(key)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			current, err := c.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			proposed, err := proposeDocument(cmd.InOrStdin(), current, file, addServices, removeServices)
			if err != nil {
				return err
			}
			auth := service.Authorization{SigningKey: signingKey}
			if !sendKey {
				proof, err := service.SignUpdate(current, proposed, signingKey)
				if err != nil {
					return err
				}
				auth = service.Authorization{Proof: proof}
			}

			doc, err := c.Update(ctx, args[0], auth, proposed)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Base58 signing key (env "+signingKeyEnv+")")
	cmd.Flags().StringVar(&file, "file", "", "JSON document to submit (- for stdin)")
	cmd.Flags().StringArrayVar(&addServices, "add-service", nil, "service to add as id,type,endpoint (repeatable)")
	cmd.Flags().StringArrayVar(&removeServices, "remove-service", nil, "service id to remove (repeatable)")
	cmd.Flags().BoolVar(&sendKey, "send-key", false, "send the signing key instead of a detached proof")
	cmd.MarkFlagsMutuallyExclusive("file", "add-service")
	cmd.MarkFlagsMutuallyExclusive("file", "remove-service")
	return cmd
}

func deactivateCmd(opts *rootOptions) *cobra.Command {
	var key string
	var sendKey bool
	cmd := &cobra.Command{
		Use:   "deactivate <did>",
		Short: "Permanently deactivate a DID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signingKey, err := resolveKey(key)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			auth := service.Authorization{SigningKey: signingKey}
			if !sendKey {
				current, err := c.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				proof, err := service.SignDeactivate(current, signingKey)
				if err != nil {
					return err
				}
				auth = service.Authorization{Proof: proof}
			}
			if err := c.Deactivate(ctx, args[0], auth); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deactivated\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Base58 signing key (env "+signingKeyEnv+")")
	cmd.Flags().BoolVar(&sendKey, "send-key", false, "send the signing key instead of a detached proof")
	return cmd
}

func historyCmd(opts *rootOptions) *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "history <did>",
		Short: "Print the hash-chained operation log of a DID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			ops, err := c.History(ctx, args[0])
			if err != nil {
				return err
			}
			if verify {
				if err := models.VerifyChain(ops); err != nil {
					return fmt.Errorf("history does not verify: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "history verified: %d operations\n", len(ops))
			}
			return printJSON(cmd.OutOrStdout(), ops)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "check the hash chain locally")
	return cmd
}

// statusReader is implemented by the registry gateways that can be queried.
type statusReader interface {
	Status(ctx context.Context, did string) (bool, error)
}

func statusCmd(opts *rootOptions) *cobra.Command {
	var nodeURL, ethRPC, ethContract string
	cmd := &cobra.Command{
		Use:   "status <did>",
		Short: "Ask the external registry whether a DID is active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			var reader statusReader
			switch {
			case nodeURL != "":
				g, err := node.New(nodeURL)
				if err != nil {
					return err
				}
				reader = g
			case ethRPC != "":
				g, err := ethereum.Dial(ctx, ethereum.Config{RPCURL: ethRPC, ContractAddress: ethContract, ChainID: 1})
				if err != nil {
					return err
				}
				defer g.Close()
				reader = g
			default:
				return fmt.Errorf("one of --node-url or --eth-rpc is required")
			}

			active, err := reader.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"did": args[0], "active": active})
		},
	}
	cmd.Flags().StringVar(&nodeURL, "node-url", "", "blockchain API bridge URL")
	cmd.Flags().StringVar(&ethRPC, "eth-rpc", "", "Ethereum JSON-RPC URL")
	cmd.Flags().StringVar(&ethContract, "eth-contract", "", "DID registry contract address")
	cmd.MarkFlagsMutuallyExclusive("node-url", "eth-rpc")
	cmd.MarkFlagsRequiredTogether("eth-rpc", "eth-contract")
	return cmd
}

func resolveKey(flag string) (string, error) {
	// Keys pasted into a flag or exported from a file often carry a newline.
	key := strings.TrimSpace(flag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv(signingKeyEnv))
	}
	if key == "" {
		return "", fmt.Errorf("a signing key is required (--key or %s)", signingKeyEnv)
	}
	if _, err := keys.DerivePublicKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func parseServices(specs []string) ([]models.Service, error) {
	out := make([]models.Service, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ",", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("service %q must be id,type,endpoint", spec)
		}
		out = append(out, models.Service{
			ID:       strings.TrimSpace(parts[0]),
			Type:     strings.TrimSpace(parts[1]),
			Endpoint: strings.TrimSpace(parts[2]),
		})
	}
	return out, nil
}

func proposeDocument(stdin io.Reader, current *models.Document, file string, add, remove []string) (*models.Document, error) {
	if file != "" {
		var r io.Reader = stdin
		if file != "-" {
			f, err := os.Open(file)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			r = f
		}
		var doc models.Document
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		return &doc, nil
	}

	remove = liststrings.DedupeAndTrim(remove)
	if len(add) == 0 && len(remove) == 0 {
		return nil, fmt.Errorf("nothing to update: pass --file, --add-service or --remove-service")
	}
	proposed := current.Clone()
	if len(remove) > 0 {
		drop := make(map[string]struct{}, len(remove))
		for _, id := range remove {
			drop[id] = struct{}{}
		}
		kept := proposed.Services[:0]
		for _, svc := range proposed.Services {
			if _, ok := drop[svc.ID]; !ok {
				kept = append(kept, svc)
			}
		}
		proposed.Services = kept
	}
	added, err := parseServices(add)
	if err != nil {
		return nil, err
	}
	proposed.Services = append(proposed.Services, added...)
	return proposed, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
