package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cf-ips-to-hcloud-fw/pkg/models"
)

const firewallJSON = `{
  "firewalls": [
    {
      "id": 42,
      "name": "fw-1",
      "labels": {},
      "created": "2016-01-30T23:50:00+00:00",
      "rules": [
        {
          "direction": "in",
          "source_ips": ["10.0.0.0/8"],
          "destination_ips": [],
          "protocol": "tcp",
          "port": "443",
          "description": "https __CLOUDFLARE_IPS__"
        },
        {
          "direction": "out",
          "source_ips": [],
          "destination_ips": ["0.0.0.0/0", "::/0"],
          "protocol": "icmp"
        }
      ],
      "applied_to": []
    }
  ]
}`

const setRulesJSON = `{
  "actions": [
    {
      "id": 13,
      "command": "set_firewall_rules",
      "status": "running",
      "progress": 0,
      "started": "2016-01-30T23:50:00+00:00",
      "finished": null,
      "resources": [{"id": 42, "type": "firewall"}],
      "error": null
    }
  ]
}`

type ruleRequest struct {
	Direction      string   `json:"direction"`
	SourceIPs      []string `json:"source_ips"`
	DestinationIPs []string `json:"destination_ips"`
	Protocol       string   `json:"protocol"`
	Port           *string  `json:"port"`
	Description    *string  `json:"description"`
}

func newTestClient(t *testing.T, handler http.Handler) *HetznerClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHetznerClient("token-1", "test", WithEndpoint(server.URL))
}

func TestGetFirewallByName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/firewalls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("User-Agent"), ApplicationName+"/test")
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("name") != "fw-1" {
			_, _ = w.Write([]byte(`{"firewalls": []}`))
			return
		}
		_, _ = w.Write([]byte(firewallJSON))
	})
	c := newTestClient(t, mux)

	fw, err := c.GetFirewallByName(context.Background(), "fw-1")
	require.NoError(t, err)
	require.NotNil(t, fw)

	assert.Equal(t, int64(42), fw.ID)
	assert.Equal(t, "fw-1", fw.Name)
	require.Len(t, fw.Rules, 2)
	assert.Equal(t, models.DirectionIn, fw.Rules[0].Direction)
	assert.Equal(t, "tcp", fw.Rules[0].Protocol)
	assert.Equal(t, hcloud.Ptr("443"), fw.Rules[0].Port)
	assert.Equal(t, "https __CLOUDFLARE_IPS__", fw.Rules[0].DescriptionText())
	assert.Equal(t, []string{"10.0.0.0/8"}, fw.Rules[0].SourceIPs)
	assert.Equal(t, models.DirectionOut, fw.Rules[1].Direction)
	assert.Nil(t, fw.Rules[1].Description)
	assert.Equal(t, []string{"0.0.0.0/0", "::/0"}, fw.Rules[1].DestinationIPs)

	missing, err := c.GetFirewallByName(context.Background(), "fw-x")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetFirewallByName_APIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"code": "unauthorized", "message": "unable to authenticate"}}`))
	}))

	fw, err := c.GetFirewallByName(context.Background(), "fw-1")
	assert.Nil(t, fw)
	require.Error(t, err)
	assert.True(t, hcloud.IsError(err, hcloud.ErrorCodeUnauthorized))
	assert.Contains(t, err.Error(), "unable to authenticate")
}

func TestSetFirewallRules_SendsCompleteRuleList(t *testing.T) {
	var got struct {
		Rules []ruleRequest `json:"rules"`
	}
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/firewalls/42/actions/set_rules", func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(setRulesJSON))
	})
	c := newTestClient(t, mux)

	fw := &models.Firewall{
		ID:   42,
		Name: "fw-1",
		Rules: []models.FirewallRule{
			{
				Direction:   models.DirectionIn,
				Protocol:    "tcp",
				Port:        hcloud.Ptr("443"),
				Description: hcloud.Ptr("__CLOUDFLARE_IPS__"),
				SourceIPs:   []string{"173.245.48.0/20", "2400:cb00::/32"},
			},
			{
				Direction:      models.DirectionOut,
				Protocol:       "icmp",
				DestinationIPs: []string{"0.0.0.0/0", "::/0"},
			},
		},
	}

	require.NoError(t, c.SetFirewallRules(context.Background(), fw))
	assert.Equal(t, 1, calls)
	require.Len(t, got.Rules, 2)

	assert.Equal(t, "in", got.Rules[0].Direction)
	assert.Equal(t, "tcp", got.Rules[0].Protocol)
	assert.Equal(t, hcloud.Ptr("443"), got.Rules[0].Port)
	assert.Equal(t, hcloud.Ptr("__CLOUDFLARE_IPS__"), got.Rules[0].Description)
	assert.Equal(t, []string{"173.245.48.0/20", "2400:cb00::/32"}, got.Rules[0].SourceIPs)

	assert.Equal(t, "out", got.Rules[1].Direction)
	assert.Equal(t, "icmp", got.Rules[1].Protocol)
	assert.Nil(t, got.Rules[1].Description)
	assert.Equal(t, []string{"0.0.0.0/0", "::/0"}, got.Rules[1].DestinationIPs)
}

func TestSetFirewallRules_RejectsMalformedCIDR(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))

	err := c.SetFirewallRules(context.Background(), &models.Firewall{
		ID: 42,
		Rules: []models.FirewallRule{
			{Direction: models.DirectionIn, Protocol: "tcp", SourceIPs: []string{"bogus"}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule 1: source_ips")
}
