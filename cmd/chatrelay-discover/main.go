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
chatrelay-discover - Relay Discovery Tool

This tool finds chat relays on the local network using mDNS (Bonjour/Avahi).

Usage:

	chatrelay-discover                    # Discover relays (5 second timeout)
	chatrelay-discover --timeout 10       # Custom timeout in seconds
	chatrelay-discover --json             # Output as JSON
	chatrelay-discover --quiet            # Only output addresses (for scripting)
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"chatrelay/internal/banner"
	"chatrelay/internal/discovery"
	"chatrelay/pkg/cli"
)

const (
	toolName = "chatrelay-discover"
	tagline  = "Network Relay Discovery Tool"
)

func main() {
	timeout := flag.Int("timeout", 5, "Discovery timeout in seconds")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	quiet := flag.Bool("quiet", false, "Only output relay addresses (for scripting)")
	help := flag.Bool("help", false, "Show help")
	version := flag.Bool("version", false, "Show version information")
	flag.BoolVar(help, "h", false, "Show help")
	flag.BoolVar(quiet, "q", false, "Only output relay addresses (for scripting)")
	flag.BoolVar(version, "v", false, "Show version information")

	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}

	if *version {
		banner.PrintVersionTo(os.Stdout, toolName, tagline)
		os.Exit(0)
	}

	// The mDNS library logs IPv6 errors that are not critical.
	log.SetOutput(io.Discard)

	if !*quiet && !*jsonOutput {
		banner.PrintTo(os.Stdout, toolName, tagline)
		cli.Info("Scanning for chat relays on the network (timeout: %ds)...", *timeout)
		fmt.Println()
	}

	relays, err := discovery.Discover(time.Duration(*timeout) * time.Second)
	if err != nil {
		if !*quiet {
			cli.Error("Discovery failed: %v", err)
		}
		os.Exit(1)
	}

	if len(relays) == 0 {
		if !*quiet && !*jsonOutput {
			printTroubleshooting()
		}
		os.Exit(0)
	}

	switch {
	case *jsonOutput:
		outputJSON(relays)
	case *quiet:
		outputQuiet(relays)
	default:
		outputHuman(relays)
	}
}

func printTroubleshooting() {
	cli.Warning("No chat relays found on the network.")
	fmt.Println()
	fmt.Println(cli.Bold + cli.Cyan + "TROUBLESHOOTING" + cli.Reset)
	fmt.Println()
	fmt.Println(cli.Dim + "  Common issues:" + cli.Reset)
	fmt.Println("    " + cli.Yellow + "•" + cli.Reset + " Relays are not running with discovery enabled (CHATRELAY_DISCOVERY_ENABLED=true)")
	fmt.Println("    " + cli.Yellow + "•" + cli.Reset + " mDNS/Bonjour is blocked by firewall (UDP port 5353)")
	fmt.Println("    " + cli.Yellow + "•" + cli.Reset + " Relays are on a different network segment")
	fmt.Println()
	fmt.Println(cli.Dim + "  Try:" + cli.Reset)
	fmt.Println("    " + cli.Green + toolName + " --timeout 10" + cli.Reset + "   # Increase timeout")
	fmt.Println()
}

func printUsage() {
	banner.PrintTo(os.Stdout, toolName, tagline)

	fmt.Println(cli.Dim + "  Discovers chat relays on the local network using mDNS (Bonjour/Avahi)." + cli.Reset)
	fmt.Println()

	fmt.Println(cli.Bold + "Usage:" + cli.Reset + " " + toolName + " [options]")
	fmt.Println()

	fmt.Println(cli.Bold + cli.Cyan + "OPTIONS" + cli.Reset)
	fmt.Println()
	fmt.Println("    " + cli.Green + "--timeout" + cli.Reset + " <seconds>   Discovery timeout (default: 5)")
	fmt.Println("    " + cli.Green + "--json" + cli.Reset + "               Output results as JSON")
	fmt.Println("    " + cli.Green + "--quiet" + cli.Reset + ", " + cli.Green + "-q" + cli.Reset + "          Only output addresses (for scripting)")
	fmt.Println("    " + cli.Green + "--version" + cli.Reset + ", " + cli.Green + "-v" + cli.Reset + "        Show version information")
	fmt.Println("    " + cli.Green + "--help" + cli.Reset + ", " + cli.Green + "-h" + cli.Reset + "           Show this help message")
	fmt.Println()

	fmt.Println(cli.Bold + cli.Cyan + "EXAMPLES" + cli.Reset)
	fmt.Println()
	fmt.Println(cli.Dim + "    # Discover relays with default timeout" + cli.Reset)
	fmt.Println("    " + toolName)
	fmt.Println()
	fmt.Println(cli.Dim + "    # Get JSON output for automation" + cli.Reset)
	fmt.Println("    " + toolName + " --json")
	fmt.Println()
	fmt.Println(cli.Dim + "    # Connect the terminal client to the first relay found" + cli.Reset)
	fmt.Println("    chatrelay-cli -discover")
	fmt.Println()

	fmt.Println(cli.Bold + cli.Cyan + "NETWORK REQUIREMENTS" + cli.Reset)
	fmt.Println()
	fmt.Println("    " + cli.Yellow + "•" + cli.Reset + " mDNS uses UDP port 5353 (multicast)")
	fmt.Println("    " + cli.Yellow + "•" + cli.Reset + " Relays must be on the same network segment")
	fmt.Println()
}

func outputJSON(relays []*discovery.Relay) {
	data, _ := json.MarshalIndent(relays, "", "  ")
	fmt.Println(string(data))
}

func outputQuiet(relays []*discovery.Relay) {
	addrs := make([]string, len(relays))
	for i, r := range relays {
		addrs[i] = r.Addr
	}
	fmt.Println(strings.Join(addrs, ","))
}

func outputHuman(relays []*discovery.Relay) {
	cli.Success("Found %d chat relay(s)", len(relays))
	fmt.Println()

	for i, r := range relays {
		fmt.Printf("  %s[%d]%s %s%s%s\n",
			cli.Dim, i+1, cli.Reset,
			cli.Bold+cli.Cyan, r.Instance, cli.Reset)

		fmt.Printf("      %sChat Address:%s    %s%s%s\n",
			cli.Dim, cli.Reset,
			cli.Green, r.Addr, cli.Reset)

		if r.WSAddr != "" {
			fmt.Printf("      %sWebSocket:%s       %s\n", cli.Dim, cli.Reset, r.WSAddr)
		}
		if r.GRPCAddr != "" {
			fmt.Printf("      %sAdmin (gRPC):%s    %s\n", cli.Dim, cli.Reset, r.GRPCAddr)
		}
		if r.Version != "" {
			fmt.Printf("      %sVersion:%s         %s\n", cli.Dim, cli.Reset, r.Version)
		}

		fmt.Println()
	}

	fmt.Println(cli.Dim + "  Tip: Use --json for machine-readable output" + cli.Reset)
	fmt.Println()
}
