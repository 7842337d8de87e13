package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tweetgraph/internal/config"
)

func configCommand(root *rootCommand) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage database and API profiles"}
	save := func() error { return config.Save(root.configPath, root.cfg) }

	var listDBFull bool
	listDB := &cobra.Command{
		Use:   "list-db",
		Short: "List database profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range root.cfg.DatabaseProfileNames() {
				mark := " "
				if name == root.cfg.DefaultDatabase {
					mark = "*"
				}
				if listDBFull {
					fmt.Fprintf(root.stdout, "%s %s\t%s\n", mark, name, root.cfg.DatabaseProfiles[name].URL)
				} else {
					fmt.Fprintf(root.stdout, "%s %s\n", mark, name)
				}
			}
			return nil
		},
	}
	listDB.Flags().BoolVarP(&listDBFull, "full", "f", false, "print connection URLs")

	var dbURL, dbFile string
	addDB := &cobra.Command{
		Use:   "add-db NAME",
		Short: "Add a database profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := dbURL
			if dbFile != "" {
				abs, err := filepath.Abs(dbFile)
				if err != nil {
					return err
				}
				url = "sqlite:///" + abs
			}
			if err := root.cfg.AddDatabase(args[0], url); err != nil {
				return err
			}
			return save()
		},
	}
	addDB.Flags().StringVarP(&dbURL, "database-url", "u", "", "database connection URL")
	addDB.Flags().StringVarP(&dbFile, "file", "f", "", "sqlite database file path")
	addDB.MarkFlagsMutuallyExclusive("database-url", "file")
	addDB.MarkFlagsOneRequired("database-url", "file")

	rmDB := &cobra.Command{
		Use:   "rm-db NAME",
		Short: "Remove a database profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.RemoveDatabase(args[0]); err != nil {
				return err
			}
			return save()
		},
	}

	setDefault := &cobra.Command{
		Use:   "set-db-default NAME",
		Short: "Make a database profile the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.SetDefaultDatabase(args[0]); err != nil {
				return err
			}
			return save()
		},
	}

	var listAPIFull bool
	listAPI := &cobra.Command{
		Use:   "list-api",
		Short: "List API profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(root.stdout, 0, 4, 2, ' ', 0)
			for _, name := range root.cfg.APIProfileNames() {
				p := root.cfg.APIProfiles[name]
				if !listAPIFull {
					p = p.Masked()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, p.ConsumerKey, p.ConsumerSecret, p.Token, p.TokenSecret)
			}
			return w.Flush()
		},
	}
	listAPI.Flags().BoolVarP(&listAPIFull, "full", "f", false, "print secrets")

	var api config.APIProfile
	addAPI := &cobra.Command{
		Use:   "add-api NAME",
		Short: "Add an API profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.AddAPI(args[0], api); err != nil {
				return err
			}
			return save()
		},
	}
	addAPI.Flags().StringVarP(&api.ConsumerKey, "consumer-key", "k", "", "consumer key")
	addAPI.Flags().StringVarP(&api.ConsumerSecret, "consumer-secret", "m", "", "consumer secret")
	addAPI.Flags().StringVarP(&api.Token, "token", "t", "", "OAuth token")
	addAPI.Flags().StringVarP(&api.TokenSecret, "token-secret", "s", "", "OAuth token secret")
	_ = addAPI.MarkFlagRequired("consumer-key")
	_ = addAPI.MarkFlagRequired("consumer-secret")

	rmAPI := &cobra.Command{
		Use:   "rm-api NAME",
		Short: "Remove an API profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.RemoveAPI(args[0]); err != nil {
				return err
			}
			return save()
		},
	}

	cmd.AddCommand(listDB, addDB, rmDB, setDefault, listAPI, addAPI, rmAPI)
	return cmd
}
