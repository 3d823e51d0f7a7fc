/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package discovery advertises and finds chat relays on the local network
using mDNS (Bonjour/Avahi).

ADVERTISEMENT:
==============
A relay with discovery enabled registers one instance of the
_chatrelay._tcp service on its chat port. TXT records carry the optional
surfaces:

	version=<relay version>
	ws=<websocket gateway address>
	grpc=<admin service address>

LOOKUP:
=======
Discover sends one multicast query and collects answers until the timeout
expires. Duplicate answers for the same instance are merged.
*/
package discovery

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"chatrelay/internal/logging"
)

// ServiceType is the DNS-SD service type advertised by relays.
const ServiceType = "_chatrelay._tcp"

const domain = "local"

// Config configures advertisement.
type Config struct {
	Enabled  bool
	Instance string
	Port     int
	Version  string
	WSAddr   string
	GRPCAddr string
}

// Relay is one relay found on the network.
type Relay struct {
	Instance string `json:"instance"`
	Host     string `json:"host"`
	Addr     string `json:"addr"`
	Version  string `json:"version,omitempty"`
	WSAddr   string `json:"ws_addr,omitempty"`
	GRPCAddr string `json:"grpc_addr,omitempty"`
}

// Service advertises the local relay.
type Service struct {
	config Config
	logger *logging.Logger

	mu     sync.Mutex
	server *mdns.Server
}

// NewService creates an advertiser for cfg.
func NewService(cfg Config) *Service {
	return &Service{
		config: cfg,
		logger: logging.NewLogger("discovery"),
	}
}

// TXT returns the TXT records published with the service.
func (s *Service) TXT() []string {
	txt := []string{}
	if s.config.Version != "" {
		txt = append(txt, "version="+s.config.Version)
	}
	if s.config.WSAddr != "" {
		txt = append(txt, "ws="+s.config.WSAddr)
	}
	if s.config.GRPCAddr != "" {
		txt = append(txt, "grpc="+s.config.GRPCAddr)
	}
	return txt
}

// Start begins answering mDNS queries. It does nothing when disabled.
func (s *Service) Start() error {
	if !s.config.Enabled {
		return nil
	}

	svc, err := mdns.NewMDNSService(s.config.Instance, ServiceType, "", "", s.config.Port, nil, s.TXT())
	if err != nil {
		return fmt.Errorf("create mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return fmt.Errorf("start mdns server: %w", err)
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	s.logger.Info("Advertising relay", "instance", s.config.Instance, "service", ServiceType, "port", s.config.Port)
	return nil
}

// Stop withdraws the advertisement.
func (s *Service) Stop() error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown()
}

// Discover queries the network for relays for up to timeout.
func Discover(timeout time.Duration) ([]*Relay, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	found := make(map[string]*Relay)
	collected := make(chan struct{})

	go func() {
		defer close(collected)
		for e := range entries {
			if r := parseEntry(e); r != nil {
				found[r.Instance] = r
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Domain = domain
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true

	err := mdns.Query(params)
	close(entries)
	<-collected
	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}

	relays := make([]*Relay, 0, len(found))
	for _, r := range found {
		relays = append(relays, r)
	}
	sort.Slice(relays, func(i, j int) bool { return relays[i].Instance < relays[j].Instance })
	return relays, nil
}

// parseEntry converts an mDNS answer into a Relay. Answers for other
// service types return nil.
func parseEntry(e *mdns.ServiceEntry) *Relay {
	suffix := "." + ServiceType + "." + domain + "."
	if e == nil || !strings.HasSuffix(e.Name, suffix) {
		return nil
	}

	r := &Relay{
		Instance: unescape(strings.TrimSuffix(e.Name, suffix)),
		Host:     strings.TrimSuffix(e.Host, "."),
	}

	ip := e.AddrV4
	if ip == nil {
		ip = e.AddrV6
	}
	if ip != nil {
		r.Addr = net.JoinHostPort(ip.String(), fmt.Sprint(e.Port))
	} else if r.Host != "" {
		r.Addr = net.JoinHostPort(r.Host, fmt.Sprint(e.Port))
	}

	for _, field := range e.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			r.Version = value
		case "ws":
			r.WSAddr = value
		case "grpc":
			r.GRPCAddr = value
		}
	}
	return r
}

// unescape removes DNS label escaping from an instance name.
func unescape(name string) string {
	return strings.ReplaceAll(name, `\ `, " ")
}
