// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"flag"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/schollz/progressbar/v3"

	"hyperorc/daemon/api"
	"hyperorc/domain"
)

func runVM(c *apiClient, out *cliOutput, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: orchctl vm list|get|rm|resume|save|reset|stop|prepare|console ...")
	}
	sub, rest := args[0], args[1:]

	if sub == "list" {
		var vms []*domain.VM
		if err := c.get("/api/v1/vms", &vms); err != nil {
			return err
		}
		out.vms(vms)
		return nil
	}

	if len(rest) < 1 {
		return fmt.Errorf("usage: orchctl vm %s <name>", sub)
	}
	name := rest[0]

	switch sub {
	case "get":
		var v domain.VM
		if err := c.get("/api/v1/vms/"+name, &v); err != nil {
			return err
		}
		out.vm(&v)
		return nil

	case "rm":
		if err := c.delete("/api/v1/vms/" + name); err != nil {
			return err
		}
		pterm.Success.Printfln("deleted VM %s", name)
		return nil

	case "resume":
		spinner, _ := pterm.DefaultSpinner.Start("resuming " + name)
		var resp api.ResumeResponse
		err := c.post("/api/v1/vms/"+name+"/resume", nil, &resp)
		if err != nil {
			spinner.Fail("resume failed")
			return err
		}
		spinner.Success(fmt.Sprintf("resumed %s in %dms", name, resp.ResumeTimeMS))
		out.vm(resp.VM)
		if resp.AgentEndpoint != "" {
			pterm.Info.Printfln("agent endpoint: %s", resp.AgentEndpoint)
		}
		return nil

	case "save":
		var v domain.VM
		if err := c.post("/api/v1/vms/"+name+"/save", nil, &v); err != nil {
			return err
		}
		out.vm(&v)
		return nil

	case "reset":
		var v domain.VM
		if err := c.post("/api/v1/vms/"+name+"/reset", nil, &v); err != nil {
			return err
		}
		out.vm(&v)
		return nil

	case "stop":
		fs := flag.NewFlagSet("vm stop", flag.ExitOnError)
		force := fs.Bool("force", false, "force stop")
		if err := fs.Parse(rest[1:]); err != nil {
			return err
		}
		var v domain.VM
		if err := c.post("/api/v1/vms/"+name+"/stop", api.StopRequest{Force: *force}, &v); err != nil {
			return err
		}
		out.vm(&v)
		return nil

	case "prepare":
		bar := progressbar.Default(-1, "preparing "+name+" (boot + settle + checkpoint)")
		var v domain.VM
		err := c.post("/api/v1/vms/"+name+"/prepare", nil, &v)
		_ = bar.Finish()
		if err != nil {
			return err
		}
		pterm.Success.Printfln("prepared %s", name)
		out.vm(&v)
		return nil

	case "console":
		if err := c.post("/api/v1/vms/"+name+"/console", nil, nil); err != nil {
			return err
		}
		pterm.Success.Printfln("opened console for %s", name)
		return nil

	default:
		return fmt.Errorf("unknown vm subcommand: %s", sub)
	}
}
