package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodingCaius/godis-cluster/cluster"
	promadapter "github.com/CodingCaius/godis-cluster/lib/metrics/prometheus"
)

type stubAPI struct {
	slots     []cluster.SlotRange
	nodes     []cluster.NodeRecord
	info      map[string]string
	err       error
	refreshed int
}

func (s *stubAPI) Slots(ctx context.Context) ([]cluster.SlotRange, error) {
	return s.slots, s.err
}

func (s *stubAPI) Nodes(ctx context.Context) ([]cluster.NodeRecord, error) {
	return s.nodes, s.err
}

func (s *stubAPI) Slaves(ctx context.Context, masterID string) ([]cluster.NodeRecord, error) {
	if masterID != "m1" {
		return nil, &cluster.UnknownNodeError{NodeID: masterID}
	}
	var result []cluster.NodeRecord
	for _, n := range s.nodes {
		if n.MasterNodeID == masterID {
			result = append(result, n)
		}
	}
	return result, nil
}

func (s *stubAPI) Info(ctx context.Context) (map[string]string, error) {
	return s.info, s.err
}

func (s *stubAPI) Keyslot(key string) int {
	return cluster.Slot(key)
}

func (s *stubAPI) Refresh(ctx context.Context) error {
	s.refreshed++
	return s.err
}

func newStub() *stubAPI {
	master := cluster.NodeRef{IP: "127.0.0.1", Port: 7000, NodeID: "m1"}
	replica := cluster.NodeRef{IP: "127.0.0.1", Port: 7001, NodeID: "r1"}
	return &stubAPI{
		slots: []cluster.SlotRange{{Start: 0, End: 16383, Master: master, Replicas: []cluster.NodeRef{replica}}},
		nodes: []cluster.NodeRecord{
			{NodeID: "m1", IPPort: "127.0.0.1:7000@17000", Flags: []string{"myself", "master"}, MasterNodeID: "-", LinkState: "connected", Slots: []string{"0-16383"}},
			{NodeID: "r1", IPPort: "127.0.0.1:7001@17001", Flags: []string{"slave"}, MasterNodeID: "m1", LinkState: "connected"},
		},
		info: map[string]string{"cluster_state": "ok", "cluster_size": "1"},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSlotsAndNodes(t *testing.T) {
	h := NewServer(newStub(), "", prometheus.NewRegistry()).Handler()

	rec := get(t, h, "/slots")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeJSON, rec.Header().Get("Content-Type"))
	var slots []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slots))
	require.Len(t, slots, 1)
	assert.Equal(t, float64(16383), slots[0]["end_slot"])
	master := slots[0]["master"].(map[string]any)
	assert.Equal(t, "m1", master["node_id"])

	rec = get(t, h, "/nodes")
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []cluster.NodeRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	assert.Len(t, nodes, 2)
}

func TestSlaves(t *testing.T) {
	h := NewServer(newStub(), "", prometheus.NewRegistry()).Handler()

	rec := get(t, h, "/nodes/m1/slaves")
	require.Equal(t, http.StatusOK, rec.Code)
	var slaves []cluster.NodeRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slaves))
	require.Len(t, slaves, 1)
	assert.Equal(t, "r1", slaves[0].NodeID)

	rec = get(t, h, "/nodes/nope/slaves")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "nope")
}

func TestInfoAndKeyslot(t *testing.T) {
	h := NewServer(newStub(), "", prometheus.NewRegistry()).Handler()

	rec := get(t, h, "/info")
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "1", info["cluster_size"])

	rec = get(t, h, "/keyslot/boo%7Bfoo%7Dwoo")
	require.Equal(t, http.StatusOK, rec.Code)
	var ks KeyslotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ks))
	assert.Equal(t, cluster.Slot("foo"), ks.Slot)
}

func TestUpstreamError(t *testing.T) {
	stub := newStub()
	stub.err = errors.New("could not connect to any nodes")
	h := NewServer(stub, "", prometheus.NewRegistry()).Handler()

	rec := get(t, h, "/slots")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 1, stub.refreshed)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := promadapter.NewClusterMetrics(reg)
	m.CommandCompleted("get", true)
	m.Redirect("moved")
	h := NewServer(newStub(), "", reg).Handler()

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `godis_cluster_commands_total{command="get",success="true"} 1`)
	assert.Contains(t, string(body), `godis_cluster_redirects_total{kind="moved"} 1`)
}
