package main

import (
	"github.com/spf13/cobra"

	"tweetgraph/internal/jobs"
)

func tagCommand(root *rootCommand) *cobra.Command {
	cmd := &cobra.Command{Use: "tag", Short: "Manage user tags"}

	var createDB string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := root.openDB(cmd.Context(), createDB)
			if err != nil {
				return err
			}
			return run(cmd.Context(), db, &jobs.CreateTagJob{DB: db, Tag: args[0]})
		},
	}
	create.Flags().StringVarP(&createDB, "database", "d", "", "database profile to use instead of the default")

	var deleteDB string
	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a tag and remove it from every user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := root.openDB(cmd.Context(), deleteDB)
			if err != nil {
				return err
			}
			return run(cmd.Context(), db, &jobs.DeleteTagJob{DB: db, Tag: args[0]})
		},
	}
	del.Flags().StringVarP(&deleteDB, "database", "d", "", "database profile to use instead of the default")

	var (
		applyDB string
		apply   targetFlags
	)
	applyCmd := &cobra.Command{
		Use:   "apply NAME",
		Short: "Tag the stored target users",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := apply.build()
			if err != nil {
				return err
			}
			db, err := root.openDB(cmd.Context(), applyDB)
			if err != nil {
				return err
			}
			return run(cmd.Context(), db, &jobs.ApplyTagJob{DB: db, Tag: args[0], Targets: targets})
		},
	}
	apply.register(applyCmd)
	apply.registerAllowMissing(applyCmd)
	applyCmd.Flags().StringVarP(&applyDB, "database", "d", "", "database profile to use instead of the default")

	cmd.AddCommand(create, del, applyCmd)
	return cmd
}
