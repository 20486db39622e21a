// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pterm/pterm"

	"hyperorc/daemon/api"
	"hyperorc/domain"
	"hyperorc/progress"
)

func runPool(c *apiClient, out *cliOutput, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: orchctl pool list|create|rm|status|provision|prepare ...")
	}
	switch args[0] {
	case "list":
		var ps []*domain.Pool
		if err := c.get("/api/v1/pools", &ps); err != nil {
			return err
		}
		out.pools(ps)
		return nil

	case "create":
		fs := flag.NewFlagSet("pool create", flag.ExitOnError)
		name := fs.String("name", "", "pool name")
		template := fs.String("template", "", "template name")
		desired := fs.Int("desired", 0, "desired count (default 3)")
		warm := fs.Int("warm", 0, "warm count (default 1)")
		maxPerHost := fs.Int("max-per-host", 0, "max VMs per host (0 = unlimited)")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *name == "" || *template == "" {
			return fmt.Errorf("-name and -template are required")
		}
		req := api.CreatePoolRequest{
			Name:         *name,
			TemplateName: *template,
			DesiredCount: *desired,
			WarmCount:    *warm,
			MaxPerHost:   *maxPerHost,
		}
		var p domain.Pool
		if err := c.post("/api/v1/pools", req, &p); err != nil {
			return err
		}
		pterm.Success.Printfln("created pool %s (desired=%d warm=%d)", p.Name, p.DesiredCount, p.WarmCount)
		return nil

	case "rm":
		if len(args) < 2 {
			return fmt.Errorf("usage: orchctl pool rm <name>")
		}
		if err := c.delete("/api/v1/pools/" + args[1]); err != nil {
			return err
		}
		pterm.Success.Printfln("deleted pool %s", args[1])
		return nil

	case "status":
		if len(args) < 2 {
			return fmt.Errorf("usage: orchctl pool status <name>")
		}
		var status domain.PoolStatus
		if err := c.get("/api/v1/pools/"+args[1], &status); err != nil {
			return err
		}
		out.poolStatus(&status)
		return nil

	case "provision":
		if len(args) < 2 {
			return fmt.Errorf("usage: orchctl pool provision <name> [-count N]")
		}
		name := args[1]
		fs := flag.NewFlagSet("pool provision", flag.ExitOnError)
		count := fs.Int("count", 1, "number of VMs to add")
		allowOver := fs.Bool("allow-over-desired", false, "allow exceeding pool.desired_count")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}

		var bar progress.ProgressReporter = progress.NewBarProgress(os.Stdout)
		bar.Start(int64(*count), "provisioning "+name)

		var resp struct {
			VMIDs []string `json:"vm_ids"`
		}
		req := api.ProvisionRequest{Count: *count, AllowOverDesired: *allowOver}
		err := c.post("/api/v1/pools/"+name+"/provision", req, &resp)
		bar.Finish()
		_ = bar.Close()
		if err != nil {
			return err
		}
		pterm.Success.Printfln("provisioned %d VM(s) in pool %s", len(resp.VMIDs), name)
		return nil

	case "prepare":
		if len(args) < 2 {
			return fmt.Errorf("usage: orchctl pool prepare <name>")
		}
		name := args[1]
		pterm.Info.Printfln("preparing all Off VMs in pool %s (this can take up to 120s per VM)", name)

		var resp struct {
			Results []struct {
				VMName string `json:"vm_name"`
				Error  string `json:"error,omitempty"`
			} `json:"results"`
		}
		if err := c.post("/api/v1/pools/"+name+"/prepare", nil, &resp); err != nil {
			return err
		}
		rows := [][]string{{"VM", "Result"}}
		for _, r := range resp.Results {
			status := "ok"
			if r.Error != "" {
				status = "FAILED: " + r.Error
			}
			rows = append(rows, []string{r.VMName, status})
		}
		pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(rows).Render()
		return nil

	default:
		return fmt.Errorf("unknown pool subcommand: %s", args[0])
	}
}
