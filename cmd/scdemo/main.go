// scdemo drives the headless compositor through a short animation,
// logging the stats of every transaction.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SCDEMO"

type options struct {
	Level           int
	Frames          int
	Interval        time.Duration
	Width, Height   int
	AcquireDelay    time.Duration
	BackPressure    bool
	NoPresentFences bool
	Output          string
	MetricsAddr     string
}

func newRoot() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:          "scdemo",
		Short:        "Animate surfaces on a headless compositor",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v, cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts options
			err := v.Unmarshal(&opts)
			if err != nil {
				return fmt.Errorf("read configuration: %w", err)
			}
			return serve(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.Int("level", 33, "API level reported by the compositor")
	flags.Int("frames", 30, "number of transactions to submit")
	flags.Duration("interval", time.Second/60, "desired time between frames")
	flags.Int("width", 256, "window width")
	flags.Int("height", 256, "window height")
	flags.Duration("acquire-delay", 0, "delay before each buffer's acquire fence signals")
	flags.Bool("back-pressure", false, "hold replaced buffers until the next frame")
	flags.Bool("no-present-fences", false, "simulate a device without present fences")
	flags.StringP("output", "o", "", "write the final frame to a PNG file")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")

	return cmd
}

// loadConfig reads an optional scdemo.yaml and binds flags and
// SCDEMO_* environment variables into v.
func loadConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetConfigName("scdemo")
	v.AddConfigPath(".")
	err := v.ReadInConfig()
	if (err != nil) && !errors.As(err, &viper.ConfigFileNotFoundError{}) {
		return err
	}

	// Unmarshal matches keys against the option fields, so dashes have to
	// go. The environment keeps them as underscores.
	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "")
		env := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		errs = append(errs, v.BindPFlag(key, f), v.BindEnv(key, env))
	})
	return errors.Join(errs...)
}

func main() {
	err := newRoot().Execute()
	if err != nil {
		os.Exit(1)
	}
}
