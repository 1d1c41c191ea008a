package main

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/config"

	_ "github.com/lib/pq"
)

// ANSI
const (
	Reset    = "\033[0m"
	Bold     = "\033[1m"
	Dim      = "\033[2m"
	White    = "\033[97m"
	Black    = "\033[30m"
	Green    = "\033[32m"
	Yellow   = "\033[33m"
	Red      = "\033[31m"
	Cyan     = "\033[36m"
	BgGreen  = "\033[42m"
	BgYellow = "\033[43m"
	BgCyan   = "\033[46m"
)

var downstreamServices = []string{"assignment", "scheduling", "journal"}

var (
	apiURL    string
	rabbitAPI string
	apiDB     *sql.DB

	// keyed by downstream service name
	cleanupDBs = map[string]*sql.DB{}
)

func initDBConnections() {
	cfg := config.Load()
	apiURL = strings.TrimSuffix(getEnv("CLI_API_URL", "http://localhost:"+cfg.APIPort), "/")
	rabbitAPI = strings.TrimSuffix(getEnv("CLI_RABBITMQ_API", "http://localhost:15672"), "/")

	var err error
	apiDB, err = sql.Open("postgres", getEnv("CLI_DATABASE_URL", cfg.DatabaseURL))
	if err != nil {
		apiDB = nil
	}
	for _, svc := range downstreamServices {
		url := config.LoadForService(strings.ToUpper(svc)).DatabaseURL
		if url == cfg.DatabaseURL {
			continue
		}
		if db, err := sql.Open("postgres", url); err == nil {
			cleanupDBs[svc] = db
		}
	}
}

func main() {
	initDBConnections()
	clearScreen()
	printBanner()
	shellLoop()
}

func shellLoop() {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(buildPrompt())

		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		parts := strings.Fields(input)

		switch {
		case input == "exit" || input == "quit" || input == "q":
			fmt.Printf("\n%s%s  Bye %s\n\n", BgCyan, Black, Reset)
			return

		case input == "help" || input == "?":
			printHelp()

		case input == "clear" || input == "cls":
			clearScreen()
			printBanner()

		case input == "status" || input == "s":
			printStatus()

		case input == "health" || input == "h":
			printHealthChecks()

		case input == "up":
			composeExec("up", "-d", "--build")

		case input == "down":
			composeExec("down")

		case parts[0] == "logs":
			if len(parts) > 1 {
				composeExec("logs", "-f", "--tail=50", parts[1])
			} else {
				composeExec("logs", "-f", "--tail=30")
			}

		case input == "queues" || input == "rabbit":
			printRabbitQueues()

		// --- Users ---
		case parts[0] == "users":
			role := ""
			if len(parts) > 1 {
				role = parts[1]
			}
			listUsers(role)

		case parts[0] == "get-user":
			if len(parts) < 2 {
				fmt.Printf("  %sUsage: get-user <externalId>%s\n", Red, Reset)
			} else {
				getUser(parts[1])
			}

		case input == "count-users":
			countUsers()

		case parts[0] == "delete-user":
			if len(parts) < 2 {
				fmt.Printf("  %sUsage: delete-user <externalId> [reason]%s\n", Red, Reset)
			} else {
				deleteUser(parts[1], strings.Join(parts[2:], " "))
			}

		// --- Deletions ---
		case input == "deletions":
			showDeletions(false)

		case input == "deletions-failed" || input == "failed":
			showDeletions(true)

		case parts[0] == "processed":
			if len(parts) < 2 {
				fmt.Printf("  %sUsage: processed <%s>%s\n", Red, strings.Join(downstreamServices, "|"), Reset)
			} else {
				showProcessed(parts[1])
			}

		// --- DB inspection ---
		case input == "tables":
			showTables(apiDB, "api")

		case strings.HasPrefix(input, "sql "):
			rawSQL(apiDB, "api", strings.TrimPrefix(input, "sql "))

		default:
			fmt.Printf("  %sunknown command %q, type 'help'%s\n", Red, parts[0], Reset)
		}

		fmt.Println()
	}
}

func printHelp() {
	fmt.Println()
	fmt.Printf("  %s%sCommands%s\n", Bold, White, Reset)
	fmt.Printf("  %sstatus%s  s    health and deletion queues\n", Green, Reset)
	fmt.Printf("  %shealth%s  h    liveness and readiness\n", Green, Reset)
	fmt.Printf("  %squeues%s       deletion queues and DLQs\n", Green, Reset)
	fmt.Println()
	fmt.Printf("  %s--- Stack ---%s\n", Dim, Reset)
	fmt.Printf("  %sup%s / %sdown%s    start or stop the compose stack\n", Green, Reset, Green, Reset)
	fmt.Printf("  %slogs%s [svc]   tail logs\n", Green, Reset)
	fmt.Println()
	fmt.Printf("  %s--- Users ---%s\n", Dim, Reset)
	fmt.Printf("  %susers%s [role]           list users, optionally by role\n", Green, Reset)
	fmt.Printf("  %sget-user%s <externalId>  show one user\n", Green, Reset)
	fmt.Printf("  %scount-users%s            count users in api db\n", Green, Reset)
	fmt.Printf("  %sdelete-user%s <externalId> [reason]\n", Green, Reset)
	fmt.Println()
	fmt.Printf("  %s--- Deletions ---%s\n", Dim, Reset)
	fmt.Printf("  %sdeletions%s         recent deletion attempts\n", Green, Reset)
	fmt.Printf("  %sfailed%s            failed deletions\n", Green, Reset)
	fmt.Printf("  %sprocessed%s <svc>   events handled downstream\n", Green, Reset)
	fmt.Println()
	fmt.Printf("  %s--- DB ---%s\n", Dim, Reset)
	fmt.Printf("  %stables%s / %ssql%s <query>\n", Green, Reset, Green, Reset)
	fmt.Println()
	fmt.Printf("  %sclear%s / %sexit%s\n", Green, Reset, Green, Reset)
}

func printBanner() {
	fmt.Println()
	fmt.Printf("  %s%s>> OpenLeaf User Service%s\n", Bold, Cyan, Reset)
	fmt.Printf("  %sType 'help' for commands%s\n", Dim, Reset)
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
