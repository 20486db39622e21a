// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"

	"hyperorc/config"
	"hyperorc/daemon/api"
	"hyperorc/daemon/audit"
	"hyperorc/daemon/scheduler"
	"hyperorc/daemon/secrets"
	"hyperorc/hypervisor"
	"hyperorc/logger"
	"hyperorc/orchestrator"
	"hyperorc/store"
)

// runServe runs orchestratord in-process, for operators who want a
// single binary rather than separately launching orchestratord and
// orchctl.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "", "path to config file (YAML)")
	addr := fs.String("addr", "", "API server address (overrides config file)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.FromFile(*configFile)
		if err != nil {
			return err
		}
		cfg = cfg.MergeWithEnv()
	} else {
		cfg = config.FromEnvironment()
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log := logger.New(cfg.LogLevel)
	pterm.Info.Printfln("orchctl serve: opening store %s", cfg.Store.Path)

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	resolver, err := secrets.NewResolver(cfg.Secrets.Backend, cfg.Hypervisor.Password, translateVaultCfg(cfg.Secrets.VaultCfg))
	if err != nil {
		return err
	}
	defer resolver.Close()

	password, err := resolver.ResolvePassword(context.Background(), cfg.Hypervisor.Username)
	if err != nil {
		return err
	}

	hv := hypervisor.NewPowerShellClient(&hypervisor.Config{
		Host:      cfg.Hypervisor.Host,
		Username:  cfg.Hypervisor.Username,
		Password:  password,
		UseWinRM:  cfg.Hypervisor.UseWinRM,
		WinRMPort: cfg.Hypervisor.WinRMPort,
		UseHTTPS:  cfg.Hypervisor.UseHTTPS,
		Timeout:   cfg.Hypervisor.Timeout,
	}, log)

	if err := os.MkdirAll(cfg.Storage.Root, 0750); err != nil {
		return err
	}

	orc := orchestrator.New(st, hv, log, orchestrator.Config{
		StorageRoot:    cfg.Storage.Root,
		PrepareTimeout: cfg.Hypervisor.PrepareTimeout,
		ResumeTimeout:  cfg.Hypervisor.ResumeTimeout,
		SettleInterval: cfg.Hypervisor.SettleInterval,
		AgentPort:      9090,
	})

	auditLogger, err := audit.NewFileLogger(filepath.Join(cfg.Storage.Root, "audit"), 100, 30, 10)
	if err != nil {
		pterm.Warning.Printfln("continuing without audit log: %v", err)
	}

	server := api.NewServer(orc, log, cfg.Server.Addr, 9090)
	if auditLogger != nil {
		server.SetAuditLogger(auditLogger)
		defer auditLogger.Close()
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(orc, log, cfg.Scheduler.Cron, cfg.Hypervisor.Timeout)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		go sched.TriggerNow()
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil && err != http.ErrServerClosed {
				pterm.Warning.Printfln("metrics server error: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	pterm.Success.Printfln("orchestratord listening on %s", cfg.Server.Addr)

	select {
	case <-sigCh:
		pterm.Info.Println("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(ctx)
	case err := <-errCh:
		return err
	}
}

func translateVaultCfg(vc *config.VaultConfig) *secrets.VaultConfig {
	if vc == nil {
		return nil
	}
	return &secrets.VaultConfig{
		Address:     vc.Address,
		Token:       vc.Token,
		SecretPath:  vc.SecretPath,
		PasswordKey: vc.PasswordKey,
	}
}
