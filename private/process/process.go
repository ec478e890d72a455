// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package process provides shared cobra command bootstrap: configuration
// loading, logging and signal handling.
package process

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
)

// Error is the default process errs class.
var Error = errs.Class("process")

// Exec runs a *cobra.Command with process-wide configuration:
// flags come from the command line, a config file and BRIGHTBROOM_*
// environment variables, in that order of precedence.
func Exec(cmd *cobra.Command) {
	cfgFile := flag.String("config", "", "config file")

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	cobra.OnInitialize(func() {
		vip := viper.New()
		if err := vip.BindPFlags(cmd.Flags()); err != nil {
			panic(Error.Wrap(err))
		}
		if err := vip.BindPFlags(cmd.PersistentFlags()); err != nil {
			panic(Error.Wrap(err))
		}
		vip.SetEnvPrefix("brightbroom")
		vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		vip.AutomaticEnv()
		if *cfgFile != "" {
			vip.SetConfigFile(*cfgFile)
			if err := vip.ReadInConfig(); err != nil {
				panic(Error.Wrap(err))
			}
		}

		// push merged settings back into unchanged flags
		push := func(flags *pflag.FlagSet) {
			flags.VisitAll(func(f *pflag.Flag) {
				if f.Changed || !vip.IsSet(f.Name) {
					return
				}
				_ = flags.Set(f.Name, vip.GetString(f.Name))
			})
		}
		push(cmd.Flags())
		push(cmd.PersistentFlags())
	})

	Must(cmd.Execute())
}

// Ctx returns a context that is cancelled on SIGINT or SIGTERM.
func Ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// Must exits the process on error.
func Must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
