// SPDX-License-Identifier: LGPL-3.0-or-later

// Command orchctl is the CLI client for orchestratord. Subcommands
// mirror the HTTP surface: template {list,get,register,rm}, pool
// {list,create,rm,status,provision,prepare}, vm
// {list,get,rm,resume,save,reset,stop,prepare,console}, acquire,
// release, reconcile, and serve (runs the daemon in-process).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pterm/pterm"
)

const (
	defaultDaemonURL = "http://localhost:8080"
	version          = "0.1.0"
)

func main() {
	daemonURL := flag.String("daemon", envOr("ORCHCTL_DAEMON", defaultDaemonURL), "Daemon base URL")
	jsonOut := flag.Bool("json", false, "Print raw JSON instead of tables")
	versionFlag := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("orchctl version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := newAPIClient(*daemonURL)
	out := &cliOutput{json: *jsonOut}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "template":
		err = runTemplate(client, out, rest)
	case "pool":
		err = runPool(client, out, rest)
	case "vm":
		err = runVM(client, out, rest)
	case "acquire":
		err = runAcquire(client, out, rest)
	case "release":
		err = runRelease(client, out, rest)
	case "reconcile":
		err = runReconcile(client, out, rest)
	case "serve":
		err = runServe(rest)
	case "help", "-h", "--help":
		usage()
		return
	default:
		pterm.Error.Printfln("unknown command: %s", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		if ae, ok := err.(*apiError); ok {
			pterm.Error.Println(ae.Error())
		} else {
			pterm.Error.Printfln("%v", err)
		}
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func usage() {
	showBanner()
	pterm.DefaultSection.Println("Usage")
	fmt.Println("orchctl [-daemon URL] [-json] <command> [args]")
	pterm.DefaultSection.Println("Commands")
	rows := [][]string{
		{"Command", "Description"},
		{"template list|register|rm", "manage templates"},
		{"pool list|create|rm|status|provision|prepare", "manage pools"},
		{"vm list|get|rm|resume|save|reset|stop|prepare|console", "manage VMs"},
		{"acquire <pool>", "acquire + resume a VM from a pool"},
		{"release <vm> [--reset] [--lease <token>] [--force]", "release a leased VM"},
		{"reconcile", "force a reconciliation pass"},
		{"serve", "run orchestratord in-process"},
	}
	pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(rows).Render()
}

func showBanner() {
	orange := pterm.NewStyle(pterm.FgLightRed)
	amber := pterm.NewStyle(pterm.FgYellow)
	bigText, _ := pterm.DefaultBigText.WithLetters(
		pterm.NewLettersFromStringWithStyle("ORCH", orange),
		pterm.NewLettersFromStringWithStyle("CTL", amber),
	).Srender()
	pterm.DefaultCenter.Println(bigText)
	pterm.DefaultCenter.Println(pterm.LightYellow("Fast-resume VM pool orchestrator client"))
}
