package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelzeko/sensor-archive/internal/usecases"
)

func parseSensorID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid sensor ID: %s", arg)
	}
	return id, nil
}

func newSyncCmd(c *cli) *cobra.Command {
	var (
		year       int
		sensorType string
		indoor     bool
	)

	cmd := &cobra.Command{
		Use:   "sync <sensor-id>",
		Short: "Import one year of a sensor",
		Long: `Download every day of the year from the archive, parse the files and store the
readings. Without --type the sensor type is searched first. Interrupting keeps the days
downloaded so far.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSensorID(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			lastPercent := -1
			progress := func(fraction float64, total, index int) {
				// One line per ten percent
				percent := int(fraction*10) * 10
				if percent != lastPercent {
					lastPercent = percent
					fmt.Fprintf(out, "%3d%% (%d/%d days)\n", percent, index, total)
				}
			}

			if stored, err := c.app.UseCase.HasYear(cmd.Context(), id, year); err == nil && stored {
				fmt.Fprintf(out, "Sensor %d already has data for %d, stored readings are kept.\n", id, year)
			}

			req := usecases.FetchRequest{Year: year, Type: sensorType, SensorID: id, Indoor: indoor}
			sensor, err := c.app.UseCase.SyncYear(cmd.Context(), req, progress)
			if errors.Is(err, context.Canceled) && sensor != nil {
				fmt.Fprintf(out, "Import interrupted, kept %d readings of sensor %d.\n", len(sensor.Readings), id)
				return nil
			}
			if err != nil {
				return fmt.Errorf("import of sensor %d for %d failed: %w", id, year, err)
			}

			fmt.Fprintf(out, "Imported %d readings of sensor %d (%s) for %d.\n", len(sensor.Readings), id, sensor.Type, year)
			return nil
		},
	}

	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "year to import")
	cmd.Flags().StringVar(&sensorType, "type", "", "sensor type, searched in the archive when empty")
	cmd.Flags().BoolVar(&indoor, "indoor", false, "the sensor is placed indoors")
	return cmd
}

func newShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <sensor-id>",
		Short: "Print the per-period maximum, minimum and average of a sensor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSensorID(args[0])
			if err != nil {
				return err
			}

			sensor, found, err := c.app.UseCase.LoadSensor(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("sensor %d is not stored, import it first with sync", id)
			}
			fmt.Fprintln(cmd.OutOrStdout(), usecases.FormatSensorSummary(sensor))
			return nil
		},
	}
}

func newResolveTypeCmd(c *cli) *cobra.Command {
	var (
		year   int
		indoor bool
	)

	cmd := &cobra.Command{
		Use:   "resolve-type <sensor-id>",
		Short: "Find the type of a sensor by probing the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSensorID(args[0])
			if err != nil {
				return err
			}

			if recorded, found, err := c.app.UseCase.IsIndoor(cmd.Context(), id); err == nil && found {
				indoor = recorded
			}

			typ, found, err := c.app.UseCase.ResolveType(cmd.Context(), id, year, indoor)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no known sensor type has data for sensor %d in %d", id, year)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sensor %d is a %s.\n", id, typ)
			return nil
		},
	}

	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "year to search")
	cmd.Flags().BoolVar(&indoor, "indoor", false, "the sensor is placed indoors")
	return cmd
}

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <sensor-id>",
		Short: "Remove a sensor and its readings",
		Long:  "Remove a sensor and its readings. The recorded type is kept, so a later sync needs no type search.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSensorID(args[0])
			if err != nil {
				return err
			}
			if err := c.app.UseCase.DeleteSensor(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sensor %d was deleted.\n", id)
			return nil
		},
	}
}

func newSensorsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sensors",
		Short: "List the stored sensors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), usecases.FormatSensorList(c.app.UseCase.SensorIDs()))
			return nil
		},
	}
}
