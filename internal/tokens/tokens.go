// Package tokens produces the named values substituted into portal pages.
package tokens

import (
	"net"
	"strconv"

	"github.com/nuclearlighters/portald/internal/system"
	"github.com/nuclearlighters/portald/internal/wifi"
)

// Token names.
const (
	EstabSSID       = "ESTAB_SSID"
	WiFiMode        = "WIFI_MODE"
	WiFiStatus      = "WIFI_STATUS"
	StationStatus   = "STATION_STATUS"
	ConnectionState = "CONNECTION_STATE"
	LocalIP         = "LOCAL_IP"
	SoftAPIP        = "SOFTAP_IP"
	Gateway         = "GATEWAY"
	Netmask         = "NETMASK"
	APMAC           = "AP_MAC"
	StaMAC          = "STA_MAC"
	Channel         = "CHANNEL"
	DBM             = "DBM"
	Quality         = "QUALITY"
	CPUFreq         = "CPU_FREQ"
	FlashSize       = "FLASH_SIZE"
	ChipID          = "CHIP_ID"
	FreeHeap        = "FREE_HEAP"
	Uptime          = "UPTIME"
	BootURI         = "BOOTURI"
	HostName        = "HOST_NAME"
)

// Input is everything the values are computed from.
type Input struct {
	Radio    wifi.Snapshot
	System   system.Snapshot
	HostName string
	BootURI  string
}

// Values computes every token from in. It has no side effects.
func Values(in Input) map[string]string {
	r := in.Radio
	connected := r.Link == wifi.LinkConnected

	host := in.HostName
	if host == "" {
		host = in.System.Hostname
	}

	v := map[string]string{
		WiFiMode:        r.Mode.String(),
		WiFiStatus:      r.Link.String(),
		StationStatus:   stationStatus(r.Link),
		ConnectionState: r.State.String(),
		LocalIP:         ipString(r.Station.IP),
		SoftAPIP:        ipString(r.AP.IP),
		Gateway:         ipString(r.Station.Gateway),
		Netmask:         ipString(r.Station.Netmask),
		APMAC:           macString(r.AP.MAC),
		StaMAC:          macString(r.Station.MAC),
		CPUFreq:         strconv.FormatFloat(in.System.CPUMHz, 'f', 0, 64),
		FlashSize:       strconv.FormatUint(in.System.FlashSize, 10),
		ChipID:          in.System.ChipID,
		FreeHeap:        strconv.FormatUint(in.System.FreeHeap, 10),
		Uptime:          in.System.UptimeHuman(),
		BootURI:         in.BootURI,
		HostName:        host,
	}

	if connected {
		v[EstabSSID] = r.Station.SSID
		v[Channel] = strconv.Itoa(int(r.Station.Channel))
		v[DBM] = strconv.Itoa(r.Station.RSSI)
		v[Quality] = strconv.Itoa(wifi.Quality(r.Station.RSSI))
	} else {
		v[EstabSSID] = ""
		v[Channel] = strconv.Itoa(int(r.AP.Channel))
		v[DBM] = "0"
		v[Quality] = "0"
	}
	if !r.Mode.HasStation() {
		v[Gateway] = ipString(r.AP.Gateway)
		v[Netmask] = ipString(r.AP.Netmask)
	}
	return v
}

func stationStatus(s wifi.LinkStatus) string {
	switch s {
	case wifi.LinkConnected:
		return "Connected"
	case wifi.LinkNoSSID:
		return "SSID not available"
	case wifi.LinkWrongPassword:
		return "Wrong password"
	case wifi.LinkConnectFailed:
		return "Connection failed"
	case wifi.LinkConnectionLost:
		return "Connection lost"
	case wifi.LinkDisconnected:
		return "Disconnected"
	case wifi.LinkScanCompleted:
		return "Scan completed"
	default:
		return "Idle"
	}
}

func ipString(ip net.IP) string {
	if ip == nil || ip.IsUnspecified() {
		return "0.0.0.0"
	}
	return ip.String()
}

func macString(mac net.HardwareAddr) string {
	if len(mac) == 0 {
		return ""
	}
	return mac.String()
}
