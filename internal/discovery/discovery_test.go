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

package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestTXT(t *testing.T) {
	s := NewService(Config{Version: "1.0.0", WSAddr: ":8080"})
	txt := s.TXT()
	if len(txt) != 2 || txt[0] != "version=1.0.0" || txt[1] != "ws=:8080" {
		t.Errorf("Unexpected TXT records %v", txt)
	}

	if got := NewService(Config{}).TXT(); len(got) != 0 {
		t.Errorf("Expected no TXT records, got %v", got)
	}
}

func TestStartDisabled(t *testing.T) {
	s := NewService(Config{Enabled: false, Instance: "relay"})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestParseEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
		want  *Relay
	}{
		{
			name: "full entry",
			entry: &mdns.ServiceEntry{
				Name:       "relay-1._chatrelay._tcp.local.",
				Host:       "box.local.",
				AddrV4:     net.ParseIP("192.168.1.10"),
				Port:       2222,
				InfoFields: []string{"version=1.0.0", "ws=:8080", "grpc=:9097", "junk"},
			},
			want: &Relay{
				Instance: "relay-1",
				Host:     "box.local",
				Addr:     "192.168.1.10:2222",
				Version:  "1.0.0",
				WSAddr:   ":8080",
				GRPCAddr: ":9097",
			},
		},
		{
			name: "host only",
			entry: &mdns.ServiceEntry{
				Name: `my\ relay._chatrelay._tcp.local.`,
				Host: "box.local.",
				Port: 2222,
			},
			want: &Relay{Instance: "my relay", Host: "box.local", Addr: "box.local:2222"},
		},
		{
			name:  "other service",
			entry: &mdns.ServiceEntry{Name: "printer._ipp._tcp.local."},
			want:  nil,
		},
		{
			name: "nil entry",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseEntry(tt.entry)
			if tt.want == nil {
				if got != nil {
					t.Errorf("Expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Expected a relay, got nil")
			}
			if *got != *tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}
