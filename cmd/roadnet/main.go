// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/fpath"
	"storj.io/private/cfgstruct"
	"storj.io/private/process"

	"github.com/opencouncil/roadnet/roadnet"
	"github.com/opencouncil/roadnet/roadnet/roadnetdb"
)

var (
	rootCmd = &cobra.Command{
		Use:   "roadnet",
		Short: "Road network import service",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the import service",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	migrationCmd = &cobra.Command{
		Use:   "migration",
		Short: "Migrate the database to the latest schema",
		RunE:  cmdMigration,
	}

	runCfg   roadnet.Config
	setupCfg roadnet.Config

	confDir string
)

func init() {
	defaultConfDir := fpath.ApplicationDir("opencouncil", "roadnet")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for roadnet configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(migrationCmd)
	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(migrationCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := roadnetdb.Open(ctx, log.Named("db"), runCfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	if err := db.CheckVersion(ctx); err != nil {
		log.Error("failed database version check; did you run `roadnet migration`?", zap.Error(err))
		return err
	}

	peer, err := roadnet.New(log, db, runCfg)
	if err != nil {
		return err
	}
	runErr := peer.Run(ctx)
	closeErr := peer.Close()
	return errs.Combine(runErr, closeErr)
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}
	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return fmt.Errorf("roadnet configuration already exists (%v)", setupDir)
	}
	if err := os.MkdirAll(setupDir, 0o700); err != nil {
		return err
	}
	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"))
}

func cmdMigration(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := roadnetdb.Open(ctx, log.Named("migration"), runCfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	return db.MigrateToLatest(ctx)
}

func main() {
	process.Exec(rootCmd)
}
