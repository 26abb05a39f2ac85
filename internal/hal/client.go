// Package hal talks to the hardware abstraction layer service that owns the
// radio, hostapd and the host's power controls. The daemon reaches it over
// HTTP so it can run without the privileges those operations need.
package hal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

const (
	// DefaultHALURL is used when neither the caller nor HAL_URL names one.
	DefaultHALURL = "http://127.0.0.1:6005"
	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 10 * time.Second

	// APService is the systemd unit that runs the soft access point.
	APService = "hostapd"
)

// Client is a HAL API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *Breaker
}

// NewClient creates a new HAL client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("HAL_URL")
	}
	if baseURL == "" {
		baseURL = DefaultHALURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		breaker: NewBreaker("hal", BreakerConfig{}),
	}
}

// Breaker exposes the transport circuit breaker.
func (c *Client) Breaker() *Breaker { return c.breaker }

// =============================================================================
// Response Types
// =============================================================================

// NetworkInterface represents a network interface from HAL
type NetworkInterface struct {
	Name          string   `json:"name"`
	IsUp          bool     `json:"is_up"`
	MACAddress    string   `json:"mac_address"`
	IPv4Addresses []string `json:"ipv4_addresses"`
	MTU           int      `json:"mtu"`
	IsWireless    bool     `json:"is_wireless"`
}

// WiFiNetwork represents a scanned WiFi network
type WiFiNetwork struct {
	SSID      string `json:"ssid"`
	BSSID     string `json:"bssid"`
	Signal    int    `json:"signal"`
	Frequency int    `json:"frequency"`
	Security  string `json:"security"`
	Channel   int    `json:"channel"`
}

// WiFiStatus is the supplicant view of a station interface.
type WiFiStatus struct {
	State     string `json:"wpa_state"`
	SSID      string `json:"ssid"`
	BSSID     string `json:"bssid"`
	Signal    int    `json:"signal"`
	Frequency int    `json:"frequency"`
	// Reason is set by HAL after a failed association: "wrong_key",
	// "no_ssid" or free text.
	Reason string `json:"reason,omitempty"`
}

// APStatus represents Access Point status
type APStatus struct {
	Active    bool   `json:"active"`
	SSID      string `json:"ssid"`
	Channel   int    `json:"channel"`
	Interface string `json:"interface"`
}

// =============================================================================
// Request Types
// =============================================================================

// ConnectRequest asks HAL to associate a station interface.
type ConnectRequest struct {
	Interface string `json:"interface"`
	SSID      string `json:"ssid"`
	Password  string `json:"password"`
	BSSID     string `json:"bssid,omitempty"`
	Channel   int    `json:"channel,omitempty"`
}

// APConfig is written to hostapd before the service is started.
type APConfig struct {
	Interface  string `json:"interface"`
	SSID       string `json:"ssid"`
	Passphrase string `json:"passphrase"`
	Channel    int    `json:"channel"`
	Hidden     bool   `json:"hidden"`
}

// =============================================================================
// HTTP helpers
// =============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var respBody []byte
	err := c.breaker.Execute(func() error {
		var err error
		respBody, err = c.roundTrip(ctx, method, path, body)
		return err
	})
	return respBody, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		if errResp.Error != "" {
			return nil, fmt.Errorf("HAL error: %s", errResp.Error)
		}
		return nil, fmt.Errorf("HAL error: status %d", resp.StatusCode)
	}

	return respBody, nil
}

func (c *Client) doGet(ctx context.Context, path string, result interface{}) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func (c *Client) doPost(ctx context.Context, path string, reqBody interface{}) error {
	_, err := c.doRequest(ctx, http.MethodPost, path, reqBody)
	return err
}

// =============================================================================
// System Operations
// =============================================================================

// Health checks if HAL is running
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err
}

// Reboot reboots the system
func (c *Client) Reboot(ctx context.Context) error {
	return c.doPost(ctx, "/system/reboot", nil)
}

// SetHostname changes the host name announced by DHCP clients.
func (c *Client) SetHostname(ctx context.Context, name string) error {
	return c.doPost(ctx, "/system/hostname", map[string]string{"hostname": name})
}

// StartService starts a systemd service
func (c *Client) StartService(ctx context.Context, name string) error {
	return c.doPost(ctx, "/system/service/"+url.PathEscape(name)+"/start", nil)
}

// StopService stops a systemd service
func (c *Client) StopService(ctx context.Context, name string) error {
	return c.doPost(ctx, "/system/service/"+url.PathEscape(name)+"/stop", nil)
}

// =============================================================================
// Network Operations
// =============================================================================

// GetInterface returns info about a specific interface
func (c *Client) GetInterface(ctx context.Context, name string) (*NetworkInterface, error) {
	var result NetworkInterface
	if err := c.doGet(ctx, "/network/interface/"+url.PathEscape(name), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetDNS replaces the resolvers used by the station interface.
func (c *Client) SetDNS(ctx context.Context, iface string, servers []string) error {
	return c.doPost(ctx, "/network/dns", map[string]interface{}{
		"interface": iface,
		"servers":   servers,
	})
}

// ScanWiFi scans for WiFi networks on the specified interface
func (c *Client) ScanWiFi(ctx context.Context, iface string) ([]WiFiNetwork, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/network/wifi/scan/"+url.PathEscape(iface), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Networks  []WiFiNetwork `json:"networks"`
		Interface string        `json:"interface"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return resp.Networks, nil
}

// ConnectWiFi starts an association. It returns before the link is up.
func (c *Client) ConnectWiFi(ctx context.Context, req ConnectRequest) error {
	return c.doPost(ctx, "/network/wifi/connect", req)
}

// DisconnectWiFi disconnects from WiFi
func (c *Client) DisconnectWiFi(ctx context.Context, iface string) error {
	return c.doPost(ctx, "/network/wifi/disconnect/"+url.PathEscape(iface), nil)
}

// GetWiFiStatus returns the association state of a station interface.
func (c *Client) GetWiFiStatus(ctx context.Context, iface string) (*WiFiStatus, error) {
	var result WiFiStatus
	if err := c.doGet(ctx, "/network/wifi/status/"+url.PathEscape(iface), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAPStatus returns Access Point status
func (c *Client) GetAPStatus(ctx context.Context) (*APStatus, error) {
	var result APStatus
	if err := c.doGet(ctx, "/network/ap/status", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ConfigureAP writes the hostapd configuration.
func (c *Client) ConfigureAP(ctx context.Context, cfg APConfig) error {
	return c.doPost(ctx, "/network/ap/config", cfg)
}
