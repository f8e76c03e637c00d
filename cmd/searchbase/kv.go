package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// kvCommand wires the shared store setup and teardown into a command
func kvCommand(cmd *cobra.Command) *cobra.Command {
	cmd.PersistentPreRunE = setupKVStore
	cmd.PersistentPostRunE = closeStore
	return cmd
}

var (
	pingCmd = kvCommand(&cobra.Command{
		Use:   "ping",
		Short: "Checks that Redis answers PING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "PONG")
			return nil
		},
	})

	getCmd = kvCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Prints the string stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	})

	putCmd = kvCommand(&cobra.Command{
		Use:   "put [key] [value]",
		Short: "Stores a string under a key with the 15 day expiry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := store.Put(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key must not be empty")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "put successfully")
			return nil
		},
	})

	delCmd = kvCommand(&cobra.Command{
		Use:   "del [key...]",
		Short: "Deletes keys without touching index documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := store.RemoveKeys(cmd.Context(), args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d key(s) removed\n", n)
			return nil
		},
	})

	keysCmd = kvCommand(&cobra.Command{
		Use:   "keys [pattern]",
		Short: "Lists keys matching a glob pattern (default *)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := store.Keys(cmd.Context(), patternArg(args))
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	})

	sizeCmd = kvCommand(&cobra.Command{
		Use:   "size [pattern]",
		Short: "Counts keys matching a glob pattern (default *)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := store.Size(cmd.Context(), patternArg(args))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	})

	existsCmd = kvCommand(&cobra.Command{
		Use:   "exists [pattern]",
		Short: "Reports whether any key matches a glob pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := store.ContainsKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), found)
			return nil
		},
	})

	clearCmd = kvCommand(&cobra.Command{
		Use:   "clear",
		Short: "Flushes every database and drops the known indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return fmt.Errorf("refusing to flush without --yes")
			}
			if _, err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	})
)

func init() {
	clearCmd.Flags().Bool("yes", false, "confirm FLUSHALL")
}

func patternArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
