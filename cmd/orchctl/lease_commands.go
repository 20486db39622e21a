// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"flag"
	"fmt"

	"github.com/pterm/pterm"

	"hyperorc/daemon/api"
)

func runAcquire(c *apiClient, out *cliOutput, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: orchctl acquire <pool>")
	}
	spinner, _ := pterm.DefaultSpinner.Start("acquiring from pool " + args[0])
	var resp api.AcquireResponse
	err := c.post("/api/v1/acquire", api.AcquireRequest{PoolName: args[0]}, &resp)
	if err != nil {
		spinner.Fail("acquire failed")
		return err
	}
	spinner.Success(fmt.Sprintf("acquired %s in %dms", resp.VM.Name, resp.ResumeTimeMS))
	out.vm(resp.VM)
	pterm.Info.Printfln("lease token: %s", resp.LeaseToken)
	if resp.AgentEndpoint != "" {
		pterm.Info.Printfln("agent endpoint: %s", resp.AgentEndpoint)
	}
	return nil
}

func runRelease(c *apiClient, out *cliOutput, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: orchctl release <vm> [--reset] [--lease <token>] [--force]")
	}
	name := args[0]

	fs := flag.NewFlagSet("release", flag.ExitOnError)
	reset := fs.Bool("reset", false, "restore the clean checkpoint and re-prepare")
	lease := fs.String("lease", "", "lease token returned by acquire")
	force := fs.Bool("force", false, "release without a matching lease token (operator override)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	req := api.ReleaseRequest{Reset: *reset, LeaseToken: *lease, Force: *force}
	var v struct {
		Name           string `json:"name"`
		State          string `json:"state"`
		CurrentAgentID string `json:"current_agent_id"`
	}
	if err := c.post("/api/v1/vms/"+name+"/release", req, &v); err != nil {
		return err
	}
	pterm.Success.Printfln("released %s (state=%s)", v.Name, v.State)
	return nil
}

func runReconcile(c *apiClient, out *cliOutput, args []string) error {
	spinner, _ := pterm.DefaultSpinner.Start("reconciling store against hypervisor")
	var resp map[string]string
	if err := c.post("/api/v1/reconcile", nil, &resp); err != nil {
		spinner.Fail("reconcile failed")
		return err
	}
	spinner.Success("reconcile complete")
	if out.json {
		out.raw(resp)
	}
	return nil
}
