// Package discovery advertises the service on the local network over mDNS.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_stt._tcp"
	Domain      = "local."
)

// register is swapped out in tests; real registration needs multicast.
var register = func(instance, service, domain string, port int, txt []string) (func(), error) {
	server, err := zeroconf.Register(instance, service, domain, port, txt, nil)
	if err != nil {
		return nil, err
	}
	return server.Shutdown, nil
}

// Advertisement describes one mDNS service record.
type Advertisement struct {
	Instance string
	Port     int
	Model    string
	Version  string
}

// TXT returns the TXT records clients use to find the transcription endpoint.
func (a Advertisement) TXT() []string {
	txt := []string{"path=/transcribe"}
	if a.Model != "" {
		txt = append(txt, fmt.Sprintf("model=%s", a.Model))
	}
	if a.Version != "" {
		txt = append(txt, fmt.Sprintf("version=%s", a.Version))
	}
	return txt
}

// InstanceName builds "<service>-<host>", falling back to the service name
// alone when the hostname is unavailable.
func InstanceName(serviceName string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return serviceName
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return serviceName + "-" + host
}

// Advertise registers the service and returns a function that withdraws it.
func Advertise(a Advertisement, logger *slog.Logger) (func(), error) {
	if a.Instance == "" {
		return nil, errors.New("mdns: instance name is required")
	}
	if a.Port <= 0 || a.Port > 65535 {
		return nil, fmt.Errorf("mdns: invalid port %d", a.Port)
	}

	shutdown, err := register(a.Instance, ServiceType, Domain, a.Port, a.TXT())
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}

	logger.Info("mdns advertised",
		"instance", a.Instance,
		"service", ServiceType,
		"domain", Domain,
		"port", a.Port,
	)
	return func() {
		shutdown()
		logger.Info("mdns withdrawn", "instance", a.Instance)
	}, nil
}
