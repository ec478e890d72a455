// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// brightbroom is the backend for the BrightBroom cleaning platform.
//
// One binary runs every peer: `run` starts the API server and the
// background jobs together, `run api` and `run core` start them
// separately for split deployments.
package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brightbroom/brightbroom/platform"
	"github.com/brightbroom/brightbroom/platform/platformdb"
	"github.com/brightbroom/brightbroom/private/cfgstruct"
	"github.com/brightbroom/brightbroom/private/process"
)

var (
	rootCmd = &cobra.Command{
		Use:   "brightbroom",
		Short: "BrightBroom backend",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the API server and the background jobs in one process",
		RunE:  cmdRun,
	}
	runAPICmd = &cobra.Command{
		Use:   "api",
		Short: "Run only the API server",
		RunE:  cmdRunAPI,
	}
	runCoreCmd = &cobra.Command{
		Use:   "core",
		Short: "Run only the background jobs",
		RunE:  cmdRunCore,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE:  cmdMigrate,
	}

	runCfg platform.Config
)

func init() {
	rootCmd.AddCommand(runCmd, migrateCmd)
	runCmd.AddCommand(runAPICmd, runCoreCmd)
	cfgstruct.Bind(rootCmd.PersistentFlags(), &runCfg)
}

func main() {
	process.Exec(rootCmd)
}

func openLogger() (*zap.Logger, error) {
	return process.NewLogger()
}

func openDB(ctx context.Context, log *zap.Logger) (*platformdb.DB, error) {
	return platformdb.Open(ctx, log.Named("db"), runCfg.Database)
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()

	log, err := openLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	services, err := platform.NewServices(log, db, runCfg)
	if err != nil {
		return err
	}
	core, err := platform.NewCore(log.Named("core"), db, runCfg, services)
	if err != nil {
		return err
	}
	api, err := platform.NewAPI(log.Named("api"), db, runCfg, services, core.Jobs)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return core.Run(ctx) })
	group.Go(func() error { return api.Run(ctx) })
	runErr := group.Wait()
	return errs.Combine(runErr, api.Close(), core.Close())
}

func cmdRunAPI(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()

	log, err := openLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	services, err := platform.NewServices(log, db, runCfg)
	if err != nil {
		return err
	}
	api, err := platform.NewAPI(log.Named("api"), db, runCfg, services, nil)
	if err != nil {
		return err
	}
	runErr := api.Run(ctx)
	return errs.Combine(runErr, api.Close())
}

func cmdRunCore(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()

	log, err := openLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	services, err := platform.NewServices(log, db, runCfg)
	if err != nil {
		return err
	}
	core, err := platform.NewCore(log.Named("core"), db, runCfg, services)
	if err != nil {
		return err
	}
	runErr := core.Run(ctx)
	return errs.Combine(runErr, core.Close())
}

func cmdMigrate(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()

	log, err := openLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	return db.MigrateToLatest(ctx)
}
