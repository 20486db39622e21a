// SPDX-License-Identifier: LGPL-3.0-or-later

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperorc/daemon/api"
	"hyperorc/hypervisor"
	"hyperorc/logger"
	"hyperorc/orchestrator"
	"hyperorc/store"
)

func newTestServer(t *testing.T) (string, *hypervisor.Fake) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fake := hypervisor.NewFake()
	orc := orchestrator.New(st, fake, logger.New("debug"), orchestrator.Config{
		StorageRoot:    t.TempDir(),
		SettleInterval: time.Millisecond,
	})
	s := api.NewServer(orc, logger.New("debug"), ":0", 9090)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, fake
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHealthEndpoint(t *testing.T) {
	url, _ := newTestServer(t)
	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHappyPathAcquireAndRelease(t *testing.T) {
	url, _ := newTestServer(t)
	vhdx := t.TempDir() + "/base.vhdx"
	require.NoError(t, writeFile(vhdx))

	resp := doJSON(t, http.MethodPost, url+"/api/v1/templates", map[string]interface{}{
		"name": "win11", "vhdx_path": vhdx,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, url+"/api/v1/pools", map[string]interface{}{
		"name": "agents", "template_name": "win11", "desired_count": 1, "warm_count": 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, url+"/api/v1/pools/agents/provision", map[string]interface{}{"count": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, url+"/api/v1/vms/agents-0/prepare", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, url+"/api/v1/acquire", map[string]interface{}{"pool_name": "agents"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var acquired map[string]interface{}
	decodeBody(t, resp, &acquired)
	assert.Equal(t, "agents-0", acquired["vm_name"])
	assert.NotEmpty(t, acquired["ip_address"])
	assert.NotEmpty(t, acquired["lease_token"])
	assert.Equal(t, "Running", acquired["state"])
	assert.Less(t, acquired["resume_time_ms"].(float64), float64(10000))

	resp = doJSON(t, http.MethodGet, url+"/api/v1/vms/agents-0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched map[string]interface{}
	decodeBody(t, resp, &fetched)
	assert.Equal(t, "Running", fetched["state"])
	assert.NotEmpty(t, fetched["last_resumed_at"])

	resp = doJSON(t, http.MethodPost, url+"/api/v1/vms/agents-0/release", map[string]interface{}{"reset": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var released map[string]interface{}
	decodeBody(t, resp, &released)
	assert.Equal(t, "Saved", released["state"])
}

func TestAcquireExhaustedPoolReturns503(t *testing.T) {
	url, _ := newTestServer(t)
	vhdx := t.TempDir() + "/base.vhdx"
	require.NoError(t, writeFile(vhdx))

	doJSON(t, http.MethodPost, url+"/api/v1/templates", map[string]interface{}{"name": "win11", "vhdx_path": vhdx}).Body.Close()
	doJSON(t, http.MethodPost, url+"/api/v1/pools", map[string]interface{}{"name": "agents", "template_name": "win11", "desired_count": 1, "warm_count": 1}).Body.Close()

	resp := doJSON(t, http.MethodPost, url+"/api/v1/acquire", map[string]interface{}{"pool_name": "agents"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body map[string]interface{}
	decodeBody(t, resp, &body)
	assert.Equal(t, "NoVMAvailable", body["error"])
}

func TestPrepareUnderBadPreconditionReturns409WithDetail(t *testing.T) {
	url, _ := newTestServer(t)
	vhdx := t.TempDir() + "/base.vhdx"
	require.NoError(t, writeFile(vhdx))

	doJSON(t, http.MethodPost, url+"/api/v1/templates", map[string]interface{}{"name": "win11", "vhdx_path": vhdx}).Body.Close()
	doJSON(t, http.MethodPost, url+"/api/v1/pools", map[string]interface{}{"name": "agents", "template_name": "win11", "desired_count": 1, "warm_count": 1}).Body.Close()
	doJSON(t, http.MethodPost, url+"/api/v1/pools/agents/provision", map[string]interface{}{"count": 1}).Body.Close()
	doJSON(t, http.MethodPost, url+"/api/v1/vms/agents-0/prepare", nil).Body.Close()

	resp := doJSON(t, http.MethodPost, url+"/api/v1/vms/agents-0/prepare", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var body map[string]interface{}
	decodeBody(t, resp, &body)
	assert.Equal(t, "Saved", body["current"])
	assert.Equal(t, "Off", body["expected"])
}

func TestReconcileHealsOutOfBandStop(t *testing.T) {
	url, fake := newTestServer(t)
	vhdx := t.TempDir() + "/base.vhdx"
	require.NoError(t, writeFile(vhdx))

	doJSON(t, http.MethodPost, url+"/api/v1/templates", map[string]interface{}{"name": "win11", "vhdx_path": vhdx}).Body.Close()
	doJSON(t, http.MethodPost, url+"/api/v1/pools", map[string]interface{}{"name": "agents", "template_name": "win11", "desired_count": 1, "warm_count": 1}).Body.Close()
	doJSON(t, http.MethodPost, url+"/api/v1/pools/agents/provision", map[string]interface{}{"count": 1}).Body.Close()
	doJSON(t, http.MethodPost, url+"/api/v1/vms/agents-0/prepare", nil).Body.Close()

	// Operator stops the VM out of band: the hypervisor now reports Off
	// while the store still believes it is Saved.
	require.NoError(t, fake.StartVM(context.Background(), "agents-0"))
	require.NoError(t, fake.PowerOff(context.Background(), "agents-0"))

	resp := doJSON(t, http.MethodPost, url+"/api/v1/reconcile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, url+"/api/v1/vms/agents-0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v map[string]interface{}
	decodeBody(t, resp, &v)
	assert.Equal(t, "Off", v["state"])
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("fake vhdx"), 0o644)
}
