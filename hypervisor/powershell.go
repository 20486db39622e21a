// SPDX-License-Identifier: LGPL-3.0-or-later

package hypervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"hyperorc/logger"
	"hyperorc/orcerrors"
)

// Config holds the connection details for the Hyper-V host this adapter
// drives, either local or over WinRM.
type Config struct {
	Host      string // empty for local execution
	Username  string
	Password  string
	UseWinRM  bool
	WinRMPort int
	UseHTTPS  bool
	Timeout   time.Duration
}

// PowerShellClient drives a Windows Hyper-V host through its native
// cmdlets, either locally or via WinRM-style remote invocation.
type PowerShellClient struct {
	cfg *Config
	log logger.Logger
}

// NewPowerShellClient constructs the adapter. cfg.Timeout defaults to
// an hour if unset.
func NewPowerShellClient(cfg *Config, log logger.Logger) *PowerShellClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Hour
	}
	if cfg.WinRMPort == 0 {
		if cfg.UseHTTPS {
			cfg.WinRMPort = 5986
		} else {
			cfg.WinRMPort = 5985
		}
	}
	return &PowerShellClient{cfg: cfg, log: log}
}

type vmJSON struct {
	Name   string `json:"Name"`
	State  int    `json:"State"`
	Uptime string `json:"Uptime"`
}

func (c *PowerShellClient) IsAvailable(ctx context.Context) bool {
	_, err := c.exec(ctx, "Get-Command Get-VM")
	return err == nil
}

func (c *PowerShellClient) ListVMs(ctx context.Context) ([]Info, error) {
	out, err := c.exec(ctx, `Get-VM | Select-Object Name, State, Uptime | ConvertTo-Json -Depth 2`)
	if err != nil {
		return nil, orcerrors.Wrap(orcerrors.HypervisorError, err)
	}
	raw, err := parseJSONArrayOrObject(out)
	if err != nil {
		return nil, orcerrors.Wrap(orcerrors.HypervisorError, err)
	}
	infos := make([]Info, 0, len(raw))
	for _, r := range raw {
		var v vmJSON
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, orcerrors.Wrap(orcerrors.HypervisorError, err)
		}
		infos = append(infos, Info{Name: v.Name, RawState: v.State, Uptime: parseUptime(v.Uptime)})
	}
	return infos, nil
}

func (c *PowerShellClient) GetVM(ctx context.Context, name string) (*Info, error) {
	out, err := c.exec(ctx, fmt.Sprintf(`Get-VM -Name '%s' | Select-Object Name, State, Uptime | ConvertTo-Json -Depth 2`, psEscape(name)))
	if err != nil {
		return nil, orcerrors.Newf(orcerrors.NotFound, "vm %q not found on hypervisor: %v", name, err)
	}
	raw, err := parseJSONArrayOrObject(out)
	if err != nil || len(raw) == 0 {
		return nil, orcerrors.Newf(orcerrors.NotFound, "vm %q not found on hypervisor", name)
	}
	var v vmJSON
	if err := json.Unmarshal(raw[0], &v); err != nil {
		return nil, orcerrors.Wrap(orcerrors.HypervisorError, err)
	}
	ip, _ := c.GetIP(ctx, name)
	return &Info{Name: v.Name, RawState: v.State, Uptime: parseUptime(v.Uptime), IPAddress: ip}, nil
}

func (c *PowerShellClient) CreateVM(ctx context.Context, name, vhdxPath string, memoryMB uint64, cpuCount uint32) error {
	script := fmt.Sprintf(
		`New-VM -Name '%s' -MemoryStartupBytes %dMB -VHDPath '%s' -Generation 2 | Out-Null
Set-VMProcessor -VMName '%s' -Count %d
Set-VM -Name '%s' -AutomaticStopAction Save`,
		psEscape(name), memoryMB, psEscape(vhdxPath), psEscape(name), cpuCount, psEscape(name),
	)
	_, err := c.exec(ctx, script)
	if err != nil {
		return orcerrors.Wrap(orcerrors.HypervisorError, fmt.Errorf("create vm %s: %w", name, err))
	}
	return nil
}

func (c *PowerShellClient) CreateDifferencingDisk(ctx context.Context, parentPath, childPath string) error {
	script := fmt.Sprintf(`New-VHD -Path '%s' -ParentPath '%s' -Differencing | Out-Null`, psEscape(childPath), psEscape(parentPath))
	_, err := c.exec(ctx, script)
	if err != nil {
		return orcerrors.Wrap(orcerrors.HypervisorError, fmt.Errorf("create differencing disk: %w", err))
	}
	return nil
}

func (c *PowerShellClient) StartVM(ctx context.Context, name string) error {
	_, err := c.exec(ctx, fmt.Sprintf(`Start-VM -Name '%s'`, psEscape(name)))
	if err != nil {
		return orcerrors.Wrap(orcerrors.HypervisorError, fmt.Errorf("start vm %s: %w", name, err))
	}
	return nil
}

func (c *PowerShellClient) SaveVM(ctx context.Context, name string) error {
	_, err := c.exec(ctx, fmt.Sprintf(`Save-VM -Name '%s'`, psEscape(name)))
	if err != nil {
		return orcerrors.Wrap(orcerrors.HypervisorError, fmt.Errorf("save vm %s: %w", name, err))
	}
	return nil
}

func (c *PowerShellClient) StopVM(ctx context.Context, name string, force bool) error {
	script := fmt.Sprintf(`Stop-VM -Name '%s'`, psEscape(name))
	if force {
		script += " -Force"
	}
	_, err := c.exec(ctx, script)
	if err != nil {
		return orcerrors.Wrap(orcerrors.HypervisorError, fmt.Errorf("stop vm %s: %w", name, err))
	}
	return nil
}

func (c *PowerShellClient) PowerOff(ctx context.Context, name string) error {
	_, err := c.exec(ctx, fmt.Sprintf(`Stop-VM -Name '%s' -TurnOff -Force`, psEscape(name)))
	if err != nil {
		return orcerrors.Wrap(orcerrors.HypervisorError, fmt.Errorf("power off vm %s: %w", name, err))
	}
	return nil
}

func (c *PowerShellClient) RemoveVM(ctx context.Context, name string) error {
	_, err := c.exec(ctx, fmt.Sprintf(`Remove-VM -Name '%s' -Force`, psEscape(name)))
	if err != nil {
		return orcerrors.Wrap(orcerrors.HypervisorError, fmt.Errorf("remove vm %s: %w", name, err))
	}
	return nil
}

func (c *PowerShellClient) CreateCheckpoint(ctx context.Context, name, snapshot string) error {
	_, err := c.exec(ctx, fmt.Sprintf(`Checkpoint-VM -Name '%s' -SnapshotName '%s'`, psEscape(name), psEscape(snapshot)))
	if err != nil {
		return orcerrors.Wrap(orcerrors.HypervisorError, fmt.Errorf("checkpoint vm %s: %w", name, err))
	}
	return nil
}

func (c *PowerShellClient) RestoreCheckpoint(ctx context.Context, name, snapshot string) error {
	script := fmt.Sprintf(
		`Get-VMSnapshot -VMName '%s' -Name '%s' | Restore-VMSnapshot -Confirm:$false`,
		psEscape(name), psEscape(snapshot),
	)
	_, err := c.exec(ctx, script)
	if err != nil {
		return orcerrors.Wrap(orcerrors.HypervisorError, fmt.Errorf("restore checkpoint for vm %s: %w", name, err))
	}
	return nil
}

func (c *PowerShellClient) GetIP(ctx context.Context, name string) (string, error) {
	script := fmt.Sprintf(
		`(Get-VMNetworkAdapter -VMName '%s').IPAddresses | Where-Object { $_ -match '\.' } | Select-Object -First 1`,
		psEscape(name),
	)
	out, err := c.exec(ctx, script)
	if err != nil {
		return "", orcerrors.Wrap(orcerrors.HypervisorError, err)
	}
	ip := strings.TrimSpace(out)
	if ip == "" {
		return "", orcerrors.New(orcerrors.Internal, "vm has no ip address")
	}
	return ip, nil
}

// WaitForReady blocks until name is Running with a non-empty IPv4 and
// the agent port accepts connections, or timeout elapses. A transient
// absence of an IP during early boot is not a failure until the
// deadline passes.
func (c *PowerShellClient) WaitForReady(ctx context.Context, name string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 500 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return "", orcerrors.Wrap(orcerrors.Timeout, ctx.Err())
		}
		info, err := c.GetVM(ctx, name)
		if err == nil && info.RawState == 3 { // Running
			if ip, ipErr := c.GetIP(ctx, name); ipErr == nil && ip != "" {
				if probeTCP(ip, agentPort, pollInterval) {
					return ip, nil
				}
			}
		}
		if time.Now().After(deadline) {
			return "", orcerrors.Newf(orcerrors.Timeout, "vm %s did not become ready within %s", name, timeout)
		}
		time.Sleep(pollInterval)
	}
}

// agentPort is the well-known port the in-guest automation agent
// listens on after resume.
const agentPort = 9090

func (c *PowerShellClient) WaitForAgent(ctx context.Context, ip string, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if ctx.Err() != nil {
			return orcerrors.Wrap(orcerrors.Timeout, ctx.Err())
		}
		if probeTCP(ip, port, 500*time.Millisecond) {
			return nil
		}
		if time.Now().After(deadline) {
			return orcerrors.Newf(orcerrors.Timeout, "agent at %s:%d did not respond within %s", ip, port, timeout)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func (c *PowerShellClient) AddGPU(ctx context.Context, name string) error {
	_, err := c.exec(ctx, fmt.Sprintf(`Add-VMGpuPartitionAdapter -VMName '%s'`, psEscape(name)))
	if err != nil {
		c.log.Warn("add gpu partition failed, continuing (best-effort)", "vm", name, "error", err)
	}
	return nil
}

func (c *PowerShellClient) EnableEnhancedSession(ctx context.Context, name string) error {
	_, err := c.exec(ctx, fmt.Sprintf(`Set-VM -Name '%s' -EnhancedSessionTransportType HvSocket`, psEscape(name)))
	if err != nil {
		c.log.Warn("enable enhanced session failed, continuing (best-effort)", "vm", name, "error", err)
	}
	return nil
}

func (c *PowerShellClient) OpenConsole(ctx context.Context, name string) error {
	_, err := c.exec(ctx, fmt.Sprintf(`vmconnect.exe localhost '%s'`, psEscape(name)))
	if err != nil {
		c.log.Warn("open console failed (fire-and-forget)", "vm", name, "error", err)
	}
	return nil
}

func (c *PowerShellClient) exec(ctx context.Context, script string) (string, error) {
	if c.cfg.UseWinRM {
		return c.execRemote(ctx, script)
	}
	return c.execLocal(ctx, script)
}

func (c *PowerShellClient) execLocal(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("powershell: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// execRemote runs script on cfg.Host via Invoke-Command, WinRM's native
// cmdlet transport, shelling out rather than pulling in a WinRM client
// library.
func (c *PowerShellClient) execRemote(ctx context.Context, script string) (string, error) {
	remoteScript := fmt.Sprintf(
		`$sec = ConvertTo-SecureString '%s' -AsPlainText -Force
$cred = New-Object System.Management.Automation.PSCredential('%s', $sec)
Invoke-Command -ComputerName '%s' -Port %d -UseSSL:%s -Credential $cred -ScriptBlock { %s }`,
		psEscape(c.cfg.Password), psEscape(c.cfg.Username), psEscape(c.cfg.Host), c.cfg.WinRMPort, strconv.FormatBool(c.cfg.UseHTTPS), script,
	)
	cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", remoteScript)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("remote powershell: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func psEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func parseJSONArrayOrObject(out string) ([]json.RawMessage, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	if strings.HasPrefix(out, "[") {
		var arr []json.RawMessage
		if err := json.Unmarshal([]byte(out), &arr); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return []json.RawMessage{json.RawMessage(out)}, nil
}

func parseUptime(s string) time.Duration {
	// Get-VM's Uptime renders as a TimeSpan's default ToString, e.g.
	// "00:01:23.4560000"; best-effort parse, zero on any mismatch.
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	secParts := strings.Split(parts[2], ".")
	sec, _ := strconv.Atoi(secParts[0])
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}

func probeTCP(ip string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
