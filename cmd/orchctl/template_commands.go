// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"hyperorc/daemon/api"
	"hyperorc/domain"
)

func runTemplate(c *apiClient, out *cliOutput, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: orchctl template list|register|rm ...")
	}
	switch args[0] {
	case "list":
		var ts []*domain.Template
		if err := c.get("/api/v1/templates", &ts); err != nil {
			return err
		}
		out.templates(ts)
		return nil

	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: orchctl template get <name>")
		}
		var t domain.Template
		if err := c.get("/api/v1/templates/"+args[1], &t); err != nil {
			return err
		}
		out.template(&t)
		return nil

	case "register":
		fs := flag.NewFlagSet("template register", flag.ExitOnError)
		name := fs.String("name", "", "template name")
		vhdx := fs.String("vhdx", "", "path to the golden VHDX")
		memory := fs.Uint64("memory-mb", 0, "memory MB (default 4096)")
		cpus := fs.Uint("cpus", 0, "CPU count (default 2)")
		gpu := fs.Bool("gpu", false, "GPU enabled")
		software := fs.String("software", "", "comma-separated installed software list")
		desc := fs.String("description", "", "description")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *name == "" || *vhdx == "" {
			return fmt.Errorf("-name and -vhdx are required")
		}
		req := api.CreateTemplateRequest{
			Name:        *name,
			VHDXPath:    *vhdx,
			MemoryMB:    *memory,
			CPUCount:    uint32(*cpus),
			GPUEnabled:  *gpu,
			Description: *desc,
		}
		if *software != "" {
			req.InstalledSoftware = strings.Split(*software, ",")
		}
		var t domain.Template
		if err := c.post("/api/v1/templates", req, &t); err != nil {
			return err
		}
		pterm.Success.Printfln("registered template %s", t.Name)
		out.template(&t)
		return nil

	case "rm":
		if len(args) < 2 {
			return fmt.Errorf("usage: orchctl template rm <name>")
		}
		if err := c.delete("/api/v1/templates/" + args[1]); err != nil {
			return err
		}
		pterm.Success.Printfln("deleted template %s", args[1])
		return nil

	default:
		return fmt.Errorf("unknown template subcommand: %s", args[0])
	}
}
