// Command carddav manages the contacts of a CardDAV address book.
//
// Credentials and the server are read from the environment (see --help) or
// from the file given with --config. Results are printed as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/icloudmcp/go-webdav/carddav"
	"github.com/icloudmcp/go-webdav/internal/config"
	"github.com/icloudmcp/go-webdav/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds what the subcommands share once the configuration is loaded.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	client *carddav.Client
}

func (a *app) creds() carddav.Credentials {
	return carddav.Credentials{Email: a.cfg.Email, Password: a.cfg.Password}
}

func newRootCmd() *cobra.Command {
	a := new(app)
	cmd := &cobra.Command{
		Use:          "carddav",
		Short:        "Manage the contacts of a CardDAV address book",
		Long:         "Manage the contacts of a CardDAV address book.\n\n" + config.Usage(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.PersistentFlags().String("log-level", "", "Logging level: debug|info|warn|error (overrides LOG_LEVEL).")

	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newGetCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newCreateCmd(a))
	cmd.AddCommand(newUpdateCmd(a))
	cmd.AddCommand(newDeleteCmd(a))
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if cfg.Email == "" || cfg.Password == "" {
		return fmt.Errorf("ICLOUD_EMAIL and ICLOUD_APP_SPECIFIC_PASSWORD must be set")
	}

	a.cfg = cfg
	a.logger = logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel)
	a.client, err = carddav.NewClient(cfg.Server,
		carddav.WithTimeout(cfg.Timeout),
		carddav.WithSearchConcurrency(cfg.SearchConcurrency),
		carddav.WithLogger(a.logger),
	)
	return err
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			contacts, err := a.client.List(cmd.Context(), a.creds())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), contacts)
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <uri>",
		Short: "Print a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contact, err := a.client.Get(cmd.Context(), a.creds(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), contact)
		},
	}
}

func newSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search contacts by name, phone, email or organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contacts, err := a.client.Search(cmd.Context(), a.creds(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), contacts)
		},
	}
}

func newCreateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a contact from JSON read on stdin or from --file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			contact, err := readContact(cmd)
			if err != nil {
				return err
			}
			created, err := a.client.Create(cmd.Context(), a.creds(), contact)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), created)
		},
	}
	cmd.Flags().String("file", "", "Read the contact from this file instead of stdin.")
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace a contact with JSON read on stdin or from --file",
		Long: "Replace a contact with JSON read on stdin or from --file.\n\n" +
			"The JSON must carry the uri and etag printed by get. The update\n" +
			"fails if the contact changed since.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			contact, err := readContact(cmd)
			if err != nil {
				return err
			}
			updated, err := a.client.Update(cmd.Context(), a.creds(), contact)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), updated)
		},
	}
	cmd.Flags().String("file", "", "Read the contact from this file instead of stdin.")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <uri>",
		Short: "Delete a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			etag, _ := cmd.Flags().GetString("etag")
			if err := a.client.Delete(cmd.Context(), a.creds(), args[0], etag); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
		},
	}
	cmd.Flags().String("etag", "", "Only delete if the contact still has this ETag.")
	return cmd
}

func readContact(cmd *cobra.Command) (*carddav.Contact, error) {
	r := cmd.InOrStdin()
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var contact carddav.Contact
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&contact); err != nil {
		return nil, fmt.Errorf("invalid contact JSON: %w", err)
	}
	return &contact, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
