// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"

	"hyperorc/config"
	"hyperorc/daemon/api"
	"hyperorc/daemon/audit"
	"hyperorc/daemon/metrics"
	"hyperorc/daemon/scheduler"
	"hyperorc/daemon/secrets"
	"hyperorc/hypervisor"
	"hyperorc/logger"
	"hyperorc/orchestrator"
	"hyperorc/store"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to config file (YAML)")
	addr := flag.String("addr", "", "API server address (overrides config file)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	versionFlag := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("orchestratord version %s\n", version)
		os.Exit(0)
	}

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.FromFile(*configFile)
		if err != nil {
			pterm.Error.Printfln("Failed to load config file: %v", err)
			os.Exit(1)
		}
		cfg = cfg.MergeWithEnv()
		pterm.Info.Printfln("Loaded configuration from: %s", *configFile)
	} else {
		cfg = config.FromEnvironment()
	}

	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	showBanner()
	log := logger.New(cfg.LogLevel)

	pterm.Info.Printfln("Starting orchestratord v%s", version)
	pterm.Info.Printfln("API server will listen on: %s", cfg.Server.Addr)

	pterm.Info.Printfln("Opening store: %s", cfg.Store.Path)
	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		pterm.Error.Printfln("Failed to open store: %v", err)
		os.Exit(1)
	}

	resolver, err := secrets.NewResolver(cfg.Secrets.Backend, cfg.Hypervisor.Password, translateVaultConfig(cfg.Secrets.VaultCfg))
	if err != nil {
		pterm.Error.Printfln("Failed to build secrets resolver: %v", err)
		os.Exit(1)
	}
	password, err := resolver.ResolvePassword(context.Background(), cfg.Hypervisor.Username)
	if err != nil {
		pterm.Error.Printfln("Failed to resolve hypervisor password: %v", err)
		os.Exit(1)
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
		pterm.Error.Printfln("Failed to create storage root: %v", err)
		os.Exit(1)
	}

	orc := orchestrator.New(st, hv, log, orchestrator.Config{
		StorageRoot:    cfg.Storage.Root,
		PrepareTimeout: cfg.Hypervisor.PrepareTimeout,
		ResumeTimeout:  cfg.Hypervisor.ResumeTimeout,
		SettleInterval: cfg.Hypervisor.SettleInterval,
		AgentPort:      9090,
	})

	auditDir := filepath.Join(cfg.Storage.Root, "audit")
	auditLogger, err := audit.NewFileLogger(auditDir, 100, 30, 10)
	if err != nil {
		pterm.Warning.Printfln("Failed to open audit log, continuing without it: %v", err)
	}

	metrics.SetBuildInfo(version, runtime.Version())
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil && err != http.ErrServerClosed {
				pterm.Warning.Printfln("Metrics server error: %v", err)
			}
		}()
		pterm.Info.Printfln("Prometheus metrics on %s/metrics", cfg.Metrics.Addr)
	}

	server := api.NewServer(orc, log, cfg.Server.Addr, 9090)
	if auditLogger != nil {
		server.SetAuditLogger(auditLogger)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(orc, log, cfg.Scheduler.Cron, cfg.Hypervisor.Timeout)
		if err != nil {
			pterm.Error.Printfln("Failed to build reconcile scheduler: %v", err)
			os.Exit(1)
		}
		sched.Start()
		pterm.Success.Printfln("Reconcile scheduler started (cron: %s)", cfg.Scheduler.Cron)
		// Heal any drift accumulated while the daemon was down before the
		// first scheduled tick.
		go sched.TriggerNow()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	pterm.Success.Printfln("Daemon started successfully")
	pterm.Info.Println("Waiting for requests... (Press Ctrl+C to stop)")
	showEndpoints(cfg.Server.Addr)

	select {
	case sig := <-sigCh:
		pterm.Warning.Printfln("Received signal: %v", sig)
		pterm.Info.Println("Shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			pterm.Error.Printfln("Server shutdown error: %v", err)
		}
		if sched != nil {
			sched.Stop()
			stats := sched.Stats()
			pterm.Info.Printfln("Reconcile scheduler ran %d time(s); last error: %s", stats.RunCount, orEmpty(stats.LastError))
		}
		if err := resolver.Close(); err != nil {
			pterm.Error.Printfln("Secrets resolver close error: %v", err)
		}
		if auditLogger != nil {
			if err := auditLogger.Close(); err != nil {
				pterm.Error.Printfln("Audit log close error: %v", err)
			}
		}
		if err := st.Close(); err != nil {
			pterm.Error.Printfln("Store close error: %v", err)
		}
		pterm.Success.Println("Daemon stopped gracefully")

	case err := <-errCh:
		pterm.Error.Printfln("Server error: %v", err)
		st.Close()
		os.Exit(1)
	}
}

func orEmpty(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func translateVaultConfig(vc *config.VaultConfig) *secrets.VaultConfig {
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

func showBanner() {
	pterm.DefaultCenter.Println()

	orange := pterm.NewStyle(pterm.FgLightRed)
	amber := pterm.NewStyle(pterm.FgYellow)

	bigText, _ := pterm.DefaultBigText.WithLetters(
		pterm.NewLettersFromStringWithStyle("ORCH", orange),
		pterm.NewLettersFromStringWithStyle("ESTRATOR", amber),
		pterm.NewLettersFromStringWithStyle("D", orange),
	).Srender()

	pterm.DefaultCenter.Println(bigText)

	subtitle := pterm.DefaultCenter.Sprint(pterm.LightYellow("Hyper-V Fast-Resume VM Pool Orchestrator"))
	pterm.Println(subtitle)
	pterm.Println()
}

func showEndpoints(addr string) {
	baseURL := fmt.Sprintf("http://%s", addr)

	endpoints := [][]string{
		{"Endpoint", "Method", "Description"},
		{baseURL + "/health", "GET", "Health check"},
		{baseURL + "/api/v1/templates", "GET/POST", "List/register templates"},
		{baseURL + "/api/v1/pools", "GET/POST", "List/create pools"},
		{baseURL + "/api/v1/pools/{name}", "GET", "Pool status"},
		{baseURL + "/api/v1/pools/{name}/provision", "POST", "Provision pool VMs"},
		{baseURL + "/api/v1/pools/{name}/prepare", "POST", "Prepare all Off VMs in pool"},
		{baseURL + "/api/v1/vms", "GET", "List VMs"},
		{baseURL + "/api/v1/vms/{name}", "GET/DELETE", "VM details / delete"},
		{baseURL + "/api/v1/vms/{name}/resume", "POST", "Fast-resume a VM"},
		{baseURL + "/api/v1/vms/{name}/release", "POST", "Release a lease"},
		{baseURL + "/api/v1/acquire", "POST", "Acquire a VM from a pool"},
		{baseURL + "/api/v1/reconcile", "POST", "Force a reconciliation pass"},
	}

	pterm.DefaultSection.Println("Available API Endpoints")
	pterm.DefaultTable.
		WithHasHeader().
		WithHeaderRowSeparator("-").
		WithBoxed().
		WithData(endpoints).
		Render()
}
