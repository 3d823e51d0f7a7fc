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
Package banner provides the startup banner for the chat relay tools.

USAGE:
======

	banner.PrintTo(w, "chatrelay", "Multi-user chat relay")
	banner.PrintServerWithConfigTo(w, cfg)

The banner text is embedded at compile time from banner.txt.
*/
package banner

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"chatrelay/internal/config"
)

//go:embed banner.txt
var bannerText string

// ANSI escape codes for terminal text formatting.
const (
	AnsiRed    = "\033[31m"
	AnsiGreen  = "\033[32m"
	AnsiYellow = "\033[33m"
	AnsiCyan   = "\033[36m"
	AnsiReset  = "\033[0m"
	AnsiBold   = "\033[1m"
	AnsiDim    = "\033[2m"
)

// Version information
const (
	Version   = "1.0.0"
	Copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."
	License   = "Licensed under Apache License 2.0"
)

// GetBanner returns the raw ASCII banner text.
func GetBanner() string {
	return bannerText
}

// GetBannerLines returns the banner as individual lines.
func GetBannerLines() []string {
	return strings.Split(strings.TrimRight(bannerText, "\n"), "\n")
}

// PrintTo writes the banner for a tool called name to w.
func PrintTo(w io.Writer, name, tagline string) {
	printArt(w)
	fmt.Fprintln(w, AnsiGreen+AnsiBold+"  "+name+AnsiReset+" "+AnsiDim+"v"+Version+AnsiReset)
	if tagline != "" {
		fmt.Fprintln(w, AnsiDim+"  "+tagline+AnsiReset)
	}
	fmt.Fprintln(w)
}

// PrintVersionTo writes the version block for a tool called name to w.
func PrintVersionTo(w io.Writer, name, tagline string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiCyan+AnsiBold+"  "+name+AnsiReset+" "+AnsiDim+"v"+Version+AnsiReset)
	if tagline != "" {
		fmt.Fprintln(w, AnsiDim+"  "+tagline+AnsiReset)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)
}

func printArt(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiCyan+AnsiBold)
	for _, line := range GetBannerLines() {
		fmt.Fprintln(w, "  "+line)
	}
	fmt.Fprintln(w, AnsiReset)
}

// PrintServerWithConfig prints the server banner with its configuration.
func PrintServerWithConfig(cfg *config.Config) {
	PrintServerWithConfigTo(os.Stdout, cfg)
}

// PrintServerWithConfigTo writes the server banner with configuration to w.
func PrintServerWithConfigTo(w io.Writer, cfg *config.Config) {
	printArt(w)
	fmt.Fprintln(w, AnsiGreen+AnsiBold+"  chatrelay"+AnsiReset+" "+AnsiDim+"v"+Version+AnsiReset)
	fmt.Fprintln(w, AnsiDim+"  Multi-user chat relay"+AnsiReset)
	fmt.Fprintln(w)

	printConfigSource(w, cfg)
	printCompactConfig(w, cfg)

	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiDim+`  Enter "/help" to see the help menu.`+AnsiReset)
	fmt.Fprintln(w)

	printLogSeparator(w)
}

func printLogSeparator(w io.Writer) {
	const lineWidth = 78
	arrow := "v"
	text := " LOGS START HERE "
	padding := (lineWidth - len(text) - 4) / 2
	if padding < 0 {
		padding = 0
	}
	line := strings.Repeat("-", padding)
	fmt.Fprintf(w, "  %s%s %s%s%s %s%s\n",
		AnsiYellow, arrow+arrow+line,
		AnsiBold, text, AnsiReset+AnsiYellow,
		line+arrow+arrow, AnsiReset)
	fmt.Fprintln(w)
}

func printConfigSource(w io.Writer, cfg *config.Config) {
	fmt.Fprint(w, "  "+AnsiDim+"Config: "+AnsiReset)
	if cfg.ConfigFile != "" {
		fmt.Fprintln(w, AnsiYellow+cfg.ConfigFile+AnsiReset)
	} else {
		fmt.Fprintln(w, AnsiDim+"defaults + environment"+AnsiReset)
	}
	fmt.Fprintln(w)
}

func printCompactConfig(w io.Writer, cfg *config.Config) {
	const lineWidth = 78

	printSectionHeader(w, "Server", lineWidth)
	printRow3(w,
		fmtKV("Listen", AnsiGreen+cfg.BindAddr+AnsiReset),
		fmtKV("Workers", fmt.Sprintf("%d", cfg.Dispatch.Workers)),
		fmtKV("Log", cfg.LogLevel))

	drain := "drain"
	if !cfg.Dispatch.DrainOnShutdown {
		drain = AnsiYellow + "immediate" + AnsiReset
	}
	printRow3(w,
		fmtKV("Data", cfg.DataDir),
		fmtKV("Auth", cfg.Auth.Backend),
		fmtKV("Shutdown", drain))
	fmt.Fprintln(w)

	printSectionHeader(w, "Endpoints", lineWidth)
	printEndpoint(w, "WebSocket", cfg.WebSocket.Enabled, "ws://"+cfg.WebSocket.Addr+"/ws")
	printEndpoint(w, "gRPC", cfg.GRPC.Enabled, cfg.GRPC.Addr)
	printEndpoint(w, "Metrics", cfg.Metrics.Enabled, "http://"+cfg.Metrics.Addr+"/metrics")
	printEndpoint(w, "Health", cfg.Health.Enabled, "http://"+cfg.Health.Addr+"/health")
	fmt.Fprintln(w)

	printSectionHeader(w, "Features", lineWidth)
	printRow3(w,
		fmtEnabled("Audit", cfg.Audit.Enabled),
		fmtEnabled("Kafka", cfg.Audit.Enabled && cfg.Audit.Kafka.Enabled),
		fmtEnabled("mDNS", cfg.Discovery.Enabled))
	fmt.Fprintln(w)
}

func printEndpoint(w io.Writer, name string, enabled bool, addr string) {
	if !enabled {
		printRow2(w, fmtEnabled(name, false), AnsiDim+"off"+AnsiReset)
		return
	}
	printRow2(w, fmtEnabled(name, true), addr)
}

func printSectionHeader(w io.Writer, title string, width int) {
	titleLen := len(title) + 4
	leftPad := 2
	rightPad := width - leftPad - titleLen
	if rightPad < 0 {
		rightPad = 0
	}
	fmt.Fprintf(w, "  %s[ %s%s%s ]%s%s\n",
		AnsiDim+strings.Repeat("-", leftPad),
		AnsiReset+AnsiCyan+AnsiBold, title, AnsiReset+AnsiDim,
		strings.Repeat("-", rightPad),
		AnsiReset)
}

func fmtKV(key, value string) string {
	return fmt.Sprintf("%s%s:%s %s", AnsiDim, key, AnsiReset, value)
}

func fmtEnabled(name string, enabled bool) string {
	if enabled {
		return AnsiGreen + name + AnsiReset
	}
	return AnsiDim + name + AnsiReset
}

func printRow3(w io.Writer, col1, col2, col3 string) {
	fmt.Fprintf(w, "  %-32s %-26s %s\n", col1, col2, col3)
}

func printRow2(w io.Writer, col1, col2 string) {
	fmt.Fprintf(w, "  %-40s %s\n", col1, col2)
}
