package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/rabbitmq"
)

var checkClient = http.Client{Timeout: 2 * time.Second}

func buildPrompt() string {
	bg, state := BgGreen, "ready"
	if err := checkEndpoint(apiURL + "/ready"); err != nil {
		bg, state = BgYellow, "not ready"
	}
	return fmt.Sprintf("%s%s openleaf %s %s %s\n%s>%s ", bg, Black, apiURL, state, Reset, Cyan, Reset)
}

func checkEndpoint(target string) error {
	resp, err := checkClient.Get(target)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func printStatus() {
	printHealthChecks()
	fmt.Println()
	printRabbitQueues()
}

func printHealthChecks() {
	fmt.Printf("  %s%sHealth%s\n", Bold, White, Reset)

	endpoints := []struct {
		name string
		url  string
	}{
		{"api live", apiURL + "/health"},
		{"api ready", apiURL + "/ready"},
		{"rabbitmq", rabbitAPI + "/api/overview"},
	}
	for _, ep := range endpoints {
		if err := checkEndpoint(ep.url); err != nil {
			fmt.Printf("  %s[-]%s %-12s %s%v%s\n", Red, Reset, ep.name, Red, err, Reset)
			continue
		}
		fmt.Printf("  %s[+]%s %-12s %sok%s\n", Green, Reset, ep.name, Green, Reset)
	}
}

type queueStat struct {
	Name      string `json:"name"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

func (q queueStat) deadLetter() bool {
	return strings.HasPrefix(q.Name, rabbitmq.DeadLetterQueue(""))
}

// deletionQueues keeps the deletion work queues and their DLQs, sorted by name.
func deletionQueues(all []queueStat) []queueStat {
	watched := map[string]bool{}
	for _, q := range []string{models.AssignmentDeletionQueue, models.SchedulingDeletionQueue, models.JournalDeletionQueue} {
		watched[q] = true
		watched[rabbitmq.DeadLetterQueue(q)] = true
	}

	var out []queueStat
	for _, q := range all {
		if watched[q.Name] {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// fetchQueues reads queue depths from the management API of the default vhost.
func fetchQueues(baseURL, user, password string) ([]queueStat, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/api/queues/"+url.PathEscape("/"), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(user, password)

	resp, err := checkClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("management api returned %d", resp.StatusCode)
	}

	var all []queueStat
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return nil, fmt.Errorf("decode queues: %w", err)
	}
	return deletionQueues(all), nil
}

func printRabbitQueues() {
	fmt.Printf("  %s%sDeletion Queues%s\n", Bold, White, Reset)

	queues, err := fetchQueues(rabbitAPI, getEnv("CLI_RABBITMQ_USER", "guest"), getEnv("CLI_RABBITMQ_PASSWORD", "guest"))
	if err != nil {
		fmt.Printf("  %s[-] rabbitmq not reachable: %v%s\n", Dim, err, Reset)
		return
	}
	if len(queues) == 0 {
		fmt.Printf("  %s[-] no deletion queues declared yet%s\n", Dim, Reset)
		return
	}

	fmt.Printf("  %s%-35s %8s %10s%s\n", Dim, "QUEUE", "MSGS", "CONSUMERS", Reset)
	for _, q := range queues {
		color := Green
		switch {
		case q.Messages > 0 && q.deadLetter():
			color = Red
		case q.Messages > 0 || (!q.deadLetter() && q.Consumers == 0):
			color = Yellow
		}
		fmt.Printf("  %-35s %s%8d %10d%s\n", q.Name, color, q.Messages, q.Consumers, Reset)
	}
}

func composeExec(args ...string) {
	cmd := exec.Command("docker", append([]string{"compose"}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Run(); err != nil {
		fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
	}
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
}
