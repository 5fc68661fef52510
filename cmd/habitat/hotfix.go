package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"habitat/internal/filtering"
	"habitat/pkg/cel"
)

type hotfixOptions struct {
	secret      string
	keyFile     string
	certificate string
}

// signHotfix checks that code compiles and returns the filter descriptor to
// paste into a payload configuration.
func signHotfix(code string, opts hotfixOptions) (filtering.Descriptor, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return filtering.Descriptor{}, fmt.Errorf("hotfix code is empty")
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return filtering.Descriptor{}, err
	}
	if err := evaluator.ValidateExpression(code); err != nil {
		return filtering.Descriptor{}, err
	}

	d := filtering.Descriptor{Type: filtering.TypeHotfix, Code: code}

	switch {
	case opts.keyFile != "":
		if opts.certificate == "" {
			return filtering.Descriptor{}, fmt.Errorf("--certificate is required with --key")
		}
		pemBytes, err := os.ReadFile(opts.keyFile)
		if err != nil {
			return filtering.Descriptor{}, fmt.Errorf("failed to read key: %w", err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
		if err != nil {
			return filtering.Descriptor{}, fmt.Errorf("failed to parse key: %w", err)
		}
		sig, err := filtering.SignWithKey(code, key)
		if err != nil {
			return filtering.Descriptor{}, err
		}
		d.Signature = sig
		d.Certificate = opts.certificate
	case opts.secret != "":
		d.Signature = filtering.SignSharedSecret(code, opts.secret)
	default:
		return filtering.Descriptor{}, fmt.Errorf("either --secret or --key is required")
	}

	return d, nil
}

func exampleNames() []string {
	names := make([]string, 0, len(cel.HotfixExamples))
	for name := range cel.HotfixExamples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func signHotfixCmd() *cobra.Command {
	var (
		opts    hotfixOptions
		example string
		list    bool
	)

	cmd := &cobra.Command{
		Use:   "sign-hotfix",
		Short: "Sign a hotfix expression read from stdin",
		Long: "Reads a hotfix expression from stdin (or --example), checks it compiles and prints " +
			"the signed filter entry as JSON. Signs with the shared secret or with an RSA key " +
			"whose certificate is installed under the parser certs directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				for _, name := range exampleNames() {
					fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", name, cel.HotfixExamples[name])
				}
				return nil
			}

			var code string
			if example != "" {
				c, ok := cel.HotfixExamples[example]
				if !ok {
					return fmt.Errorf("unknown example %q", example)
				}
				code = c
			} else {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read code: %w", err)
				}
				code = string(raw)
			}

			if opts.secret == "" {
				opts.secret = os.Getenv("PARSER_HOTFIX_SECRET")
			}

			d, err := signHotfix(code, opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}

	cmd.Flags().StringVar(&opts.secret, "secret", "", "Shared secret (default $PARSER_HOTFIX_SECRET)")
	cmd.Flags().StringVar(&opts.keyFile, "key", "", "PEM encoded RSA private key")
	cmd.Flags().StringVar(&opts.certificate, "certificate", "", "Certificate file name the parser verifies the signature with")
	cmd.Flags().StringVar(&example, "example", "", "Sign a built-in example instead of reading stdin")
	cmd.Flags().BoolVar(&list, "list-examples", false, "List the built-in examples")

	return cmd
}
