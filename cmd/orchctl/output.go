// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"

	"hyperorc/domain"
)

// cliOutput renders either pterm tables (default) or raw JSON (-json)
// for scripting.
type cliOutput struct {
	json bool
}

func (o *cliOutput) raw(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		pterm.Error.Printfln("encode output: %v", err)
		return
	}
	fmt.Println(string(b))
}

func (o *cliOutput) templates(ts []*domain.Template) {
	if o.json {
		o.raw(ts)
		return
	}
	rows := [][]string{{"Name", "VHDX Path", "Memory MB", "CPUs", "GPU"}}
	for _, t := range ts {
		rows = append(rows, []string{t.Name, t.VHDXPath, fmt.Sprint(t.MemoryMB), fmt.Sprint(t.CPUCount), fmt.Sprint(t.GPUEnabled)})
	}
	pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(rows).Render()
}

func (o *cliOutput) template(t *domain.Template) {
	if o.json {
		o.raw(t)
		return
	}
	rows := [][]string{
		{"ID", t.ID},
		{"Name", t.Name},
		{"VHDX Path", t.VHDXPath},
		{"Memory MB", fmt.Sprint(t.MemoryMB)},
		{"CPUs", fmt.Sprint(t.CPUCount)},
		{"GPU", fmt.Sprint(t.GPUEnabled)},
		{"Description", t.Description},
	}
	pterm.DefaultTable.WithData(rows).Render()
}

func (o *cliOutput) pools(ps []*domain.Pool) {
	if o.json {
		o.raw(ps)
		return
	}
	rows := [][]string{{"Name", "Template ID", "Desired", "Warm", "Max/Host"}}
	for _, p := range ps {
		rows = append(rows, []string{p.Name, p.TemplateID, fmt.Sprint(p.DesiredCount), fmt.Sprint(p.WarmCount), fmt.Sprint(p.MaxPerHost)})
	}
	pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(rows).Render()
}

func (o *cliOutput) poolStatus(s *domain.PoolStatus) {
	if o.json {
		o.raw(s)
		return
	}
	rows := [][]string{{"State", "Count"}}
	for _, st := range []domain.VMState{domain.VMOff, domain.VMRunning, domain.VMSaved, domain.VMPaused, domain.VMError} {
		rows = append(rows, []string{string(st), fmt.Sprint(s.ByState[st])})
	}
	pterm.DefaultSection.Printfln("Pool %s (%d VMs, %d GPU-enabled)", s.PoolName, s.Total, s.GPUEnabled)
	pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(rows).Render()
}

func (o *cliOutput) vms(vs []*domain.VM) {
	if o.json {
		o.raw(vs)
		return
	}
	rows := [][]string{{"Name", "State", "Pool", "IP", "Leased"}}
	for _, v := range vs {
		leased := "-"
		if v.CurrentAgentID != "" {
			leased = v.CurrentAgentID
		}
		rows = append(rows, []string{v.Name, string(v.State), v.PoolID, v.IPAddress, leased})
	}
	pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(rows).Render()
}

func (o *cliOutput) vm(v *domain.VM) {
	if o.json {
		o.raw(v)
		return
	}
	rows := [][]string{
		{"ID", v.ID},
		{"Name", v.Name},
		{"State", string(v.State)},
		{"Pool ID", v.PoolID},
		{"Template ID", v.TemplateID},
		{"IP", v.IPAddress},
		{"Lease", v.CurrentAgentID},
		{"Error", v.ErrorMessage},
	}
	pterm.DefaultTable.WithData(rows).Render()
}
