package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelzeko/sensor-archive/internal/entities"
)

func newTypesCmd(c *cli) *cobra.Command {
	typesCmd := &cobra.Command{
		Use:   "types",
		Short: "List the sensor types tried during type search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := c.app.UseCase.ListSensorTypes(cmd.Context())
			if err != nil {
				return err
			}
			for _, typ := range types {
				fmt.Fprintln(cmd.OutOrStdout(), typ)
			}
			return nil
		},
	}

	typesCmd.AddCommand(&cobra.Command{
		Use:   "add <type>...",
		Short: "Append sensor types to the search catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			added, err := c.app.UseCase.AddSearchTypes(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d new sensor types added.\n", added)
			return nil
		},
	})

	return typesCmd
}

func newClearCacheCmd(c *cli) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Remove the downloaded day files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.UseCase.ClearCache(cmd.Context(), all); err != nil {
				return err
			}
			if all {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache and database were cleared.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache was cleared.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "also empty the database")
	return cmd
}

func newSettingCmd(c *cli) *cobra.Command {
	settingCmd := &cobra.Command{
		Use:   "setting",
		Short: "Read and change settings",
		Long:  fmt.Sprintf("Settings: %s (%s) and %s.", entities.SettingBucketFormat, strings.Join(entities.BucketFormats, ", "), entities.SettingLineStyle),
	}

	settingCmd.AddCommand(&cobra.Command{
		Use:   "get <name>",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := c.app.UseCase.GetSetting(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	})

	settingCmd.AddCommand(&cobra.Command{
		Use:   "set <name> <value>",
		Short: "Change a setting",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Bucket formats may contain a space
			value := strings.Join(args[1:], " ")
			if err := c.app.UseCase.SetSetting(cmd.Context(), args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], value)
			return nil
		},
	})

	return settingCmd
}

func newCatalogCmd(c *cli) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the sensor type catalog",
	}

	catalogCmd.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Import sensor types from the live sensor directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.UseCase.ImportCatalog(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Sensor directory imported.")
			return nil
		},
	})

	return catalogCmd
}

func newArchiveCmd(c *cli) *cobra.Command {
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect the remote archive",
	}

	var importTypes bool
	lsCmd := &cobra.Command{
		Use:   "ls [date]",
		Short: "List the sensors with a file on one day (default yesterday)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
			if len(args) == 1 {
				parsed, err := time.Parse(entities.DateLayout, args[0])
				if err != nil {
					return fmt.Errorf("invalid date %q, expected %s", args[0], entities.DateLayout)
				}
				date = parsed
			}

			if importTypes {
				inserted, err := c.app.UseCase.ImportArchiveTypes(cmd.Context(), date)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d new sensor types recorded.\n", inserted)
				return nil
			}

			entries, err := c.app.Index.ListDay(cmd.Context(), date)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				location := ""
				if entry.Indoor {
					location = " indoor"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s%s\n", entry.SensorID, entry.Type, location)
			}
			return nil
		},
	}
	lsCmd.Flags().BoolVar(&importTypes, "import", false, "record the listed sensor types in the catalog")

	archiveCmd.AddCommand(lsCmd)
	return archiveCmd
}
