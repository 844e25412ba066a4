package grpcsrv

import (
	"context"
	"testing"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/node"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/registry"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
)

type stubElement struct{}

func (stubElement) GetNPorts() (nInput, maxInput, nOutput, maxOutput uint32) { return 1, 1, 0, 0 }
func (stubElement) GetPortIDs(maxInput, maxOutput uint32) (inputIDs, outputIDs []uint32) {
	return []uint32{0}, nil
}
func (stubElement) SetEventCallback(cb spa.EventCallback)                { }
func (stubElement) SendCommand(cmd spa.Command) error                    { return nil }
func (stubElement) PortSetFormat(d spa.Direction, id uint32, f any) error { return nil }
func (stubElement) PortPullOutput() (spa.PortOutputInfo, error) {
	return spa.PortOutputInfo{}, nil
}
func (stubElement) PortPushInput(info spa.PortInputInfo) error    { return nil }
func (stubElement) PortReuseBuffer(portID, bufferID uint32) error { return nil }
func (stubElement) GetClock() (spa.Clock, bool)                   { return nil, false }

func TestGetStatusReflectsRegisteredNodes(t *testing.T) {
	reg := registry.New()
	n, err := node.New(node.Config{Handle: "n1", Name: "demo", Element: stubElement{}})
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}
	reg.Add(n)

	srv := New("127.0.0.1", 0, reg, nil)
	status, err := srv.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if len(status) != 1 {
		t.Fatalf("expected 1 node, got %d", len(status))
	}
	if status[0].Handle != "n1" || status[0].State != "suspended" {
		t.Fatalf("unexpected status entry: %+v", status[0])
	}
	if status[0].NInput != 1 || status[0].MaxInput != 1 {
		t.Fatalf("expected port counts to reflect the element, got %+v", status[0])
	}
}

func TestHealthCheckBeforeStart(t *testing.T) {
	reg := registry.New()
	srv := New("127.0.0.1", 0, reg, nil)
	if ok, err := srv.HealthCheck(context.Background()); ok || err == nil {
		t.Fatal("expected HealthCheck to fail before Start")
	}
}

func TestGetMetricsMatchesRegistryStats(t *testing.T) {
	reg := registry.New()
	n, _ := node.New(node.Config{Handle: "n1", Element: stubElement{}})
	reg.Add(n)

	srv := New("127.0.0.1", 0, reg, nil)
	metrics, err := srv.GetMetrics(context.Background())
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if metrics.TotalNodes != 1 {
		t.Fatalf("expected 1 node in metrics, got %d", metrics.TotalNodes)
	}
}
