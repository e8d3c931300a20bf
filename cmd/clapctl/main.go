package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openclapp/openclapp/pkg/sdk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	client, err := sdk.FromEnv()
	if err != nil {
		log.Fatalf("Invalid OPENCLAPP_URL: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	command := strings.ToLower(os.Args[1])
	args := os.Args[2:]

	switch command {
	case "register":
		if len(args) < 1 {
			log.Fatal("Usage: clapctl register <name> [xHandle]")
		}
		handle := ""
		if len(args) > 1 {
			handle = args[1]
		}
		printJSON(client.Register(ctx, args[0], handle))

	case "clap":
		if len(args) < 2 {
			log.Fatal("Usage: clapctl clap <agentID> <on|off>")
		}
		on, err := parseOnOff(args[1])
		if err != nil {
			log.Fatal(err)
		}
		printJSON(client.SetClapping(ctx, args[0], on))

	case "heartbeat":
		if len(args) < 1 {
			log.Fatal("Usage: clapctl heartbeat <agentID> [on|off]")
		}
		var clapping *bool
		if len(args) > 1 {
			on, err := parseOnOff(args[1])
			if err != nil {
				log.Fatal(err)
			}
			clapping = &on
		}
		printJSON(client.Heartbeat(ctx, args[0], clapping))

	case "stats":
		printJSON(client.CurrentStats(ctx))

	case "history":
		rng := ""
		if len(args) > 0 {
			rng = args[0]
		}
		printJSON(client.History(ctx, rng))

	case "agents":
		q := sdk.ListQuery{}
		if len(args) > 0 {
			q.Sort = args[0]
		}
		if len(args) > 1 {
			q.Page = atoi(args[1])
		}
		printJSON(client.ListAgents(ctx, q))

	case "agent":
		if len(args) < 1 {
			log.Fatal("Usage: clapctl agent <agentID|name>")
		}
		a, err := client.GetAgent(ctx, args[0])
		if err != nil {
			a, err = client.GetAgentByName(ctx, args[0])
		}
		printJSON(a, err)

	case "events":
		limit := 0
		if len(args) > 0 {
			limit = atoi(args[0])
		}
		printJSON(client.Events(ctx, limit))

	case "verify":
		if len(args) < 2 {
			log.Fatal("Usage: clapctl verify <agentID> <xHandle>")
		}
		printJSON(client.StartVerification(ctx, args[0], args[1]))

	case "check":
		if len(args) < 1 {
			log.Fatal("Usage: clapctl check <challengeID>")
		}
		printJSON(client.CheckVerification(ctx, args[0]))

	case "wipe":
		if len(args) < 1 {
			log.Fatal("Usage: clapctl wipe <agents|unverified|events>")
		}
		switch args[0] {
		case "agents":
			printJSON(client.WipeAgents(ctx))
		case "unverified":
			printJSON(client.WipeUnverifiedAgents(ctx))
		case "events":
			printJSON(client.WipeEvents(ctx))
		default:
			log.Fatalf("Unknown wipe target: %s", args[0])
		}

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("Expected a number, got %q", s)
	}
	return n
}

func printJSON(v any, err error) {
	if err != nil {
		log.Fatal(err)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func printUsage() {
	fmt.Println("OpenClapp CLI")
	fmt.Println("Usage: clapctl <command> [args]")
	fmt.Println("\nCommands:")
	fmt.Println("  register <name> [xHandle]          Register an agent")
	fmt.Println("  clap <agentID> <on|off>            Set the clapping flag")
	fmt.Println("  heartbeat <agentID> [on|off]       Send a heartbeat")
	fmt.Println("  stats                              Show current percentages")
	fmt.Println("  history [hour|day|week|month|all]  Show clapping history")
	fmt.Println("  agents [sort] [page]               List agents")
	fmt.Println("  agent <agentID|name>               Show one agent")
	fmt.Println("  events [limit]                     Show recent clap events")
	fmt.Println("  verify <agentID> <xHandle>         Start X verification")
	fmt.Println("  check <challengeID>                Check X verification")
	fmt.Println("  wipe <agents|unverified|events>    Admin wipes (needs OPENCLAPP_ADMIN_SECRET)")
	fmt.Println("\nEnvironment:")
	fmt.Println("  OPENCLAPP_URL           Daemon URL (default http://localhost:8080)")
	fmt.Println("  OPENCLAPP_INSECURE_TLS  Set to true to accept a self-signed certificate")
}
