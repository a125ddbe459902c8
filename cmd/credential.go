package cmd

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/crabeye/mcp-bridge/internal/credential"
)

var credentialFilePath string

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage locally stored upstream credentials",
	Annotations: map[string]string{
		"group": "credential",
		"order": "1",
	},
}

var credentialSetCmd = &cobra.Command{
	Use:   "set <key> <bearer-token>",
	Short: "Store a bearer token under key",
	Args:  cobra.ExactArgs(2),
	RunE:  runCredentialSet,
}

var credentialGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the credential stored under key",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialGet,
}

var credentialDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove the credential stored under key",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialDelete,
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every stored credential key",
	Args:  cobra.NoArgs,
	RunE:  runCredentialList,
}

func init() {
	credentialCmd.PersistentFlags().StringVar(
		&credentialFilePath,
		"credential-file",
		"",
		"path to the encrypted credential store (defaults to credentials.enc next to --config)",
	)

	credentialCmd.AddCommand(credentialSetCmd, credentialGetCmd, credentialDeleteCmd, credentialListCmd)
	rootCmd.AddCommand(credentialCmd)
}

// resolveCredentialPath defaults the store location to a credentials.enc
// file alongside the resolved config path, per spec.md §6's "persisted
// state" (the store's location itself is left to the CLI, not the config
// file format).
func resolveCredentialPath() (string, error) {
	if credentialFilePath != "" {
		return credentialFilePath, nil
	}
	cfgPath, err := resolveConfigPath()
	if err != nil {
		return "", fmt.Errorf("no --credential-file given and %w", err)
	}
	return filepath.Join(filepath.Dir(cfgPath), "credentials.enc"), nil
}

func runCredentialSet(cmd *cobra.Command, args []string) error {
	path, err := resolveCredentialPath()
	if err != nil {
		return err
	}
	store, err := credential.Open(path)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	key, token := args[0], args[1]
	if err := store.Set(key, credential.Credential{Kind: credential.KindBearer, Bearer: token}); err != nil {
		return fmt.Errorf("set credential %q: %w", key, err)
	}
	cmd.Printf("stored credential %q\n", key)
	return nil
}

func runCredentialGet(cmd *cobra.Command, args []string) error {
	path, err := resolveCredentialPath()
	if err != nil {
		return err
	}
	store, err := credential.Open(path)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	key := args[0]
	cred, ok, err := store.Get(key)
	if err != nil {
		return fmt.Errorf("get credential %q: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("no credential stored under %q", key)
	}
	switch cred.Kind {
	case credential.KindBearer:
		cmd.Println(cred.Bearer)
	case credential.KindOAuth2:
		cmd.Printf("access_token=%s refresh_token=%s\n", cred.OAuth2.AccessToken, cred.OAuth2.RefreshToken)
	}
	return nil
}

func runCredentialDelete(cmd *cobra.Command, args []string) error {
	path, err := resolveCredentialPath()
	if err != nil {
		return err
	}
	store, err := credential.Open(path)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	key := args[0]
	if err := store.Delete(key); err != nil {
		return fmt.Errorf("delete credential %q: %w", key, err)
	}
	cmd.Printf("deleted credential %q\n", key)
	return nil
}

func runCredentialList(cmd *cobra.Command, args []string) error {
	path, err := resolveCredentialPath()
	if err != nil {
		return err
	}
	store, err := credential.Open(path)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	keys, err := store.List()
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Println(k)
	}
	return nil
}
