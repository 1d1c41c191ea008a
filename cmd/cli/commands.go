package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/internal/store"
	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"
)

func dbReady(db *sql.DB, label string) bool {
	if db == nil || db.Ping() != nil {
		fmt.Printf("  %s[x] %s db not reachable%s\n", Red, label, Reset)
		return false
	}
	return true
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func listUsers(role string) {
	if !dbReady(apiDB, "api") {
		return
	}
	ctx, cancel := cmdContext()
	defer cancel()

	users := store.NewUserStore(apiDB)
	var (
		list []models.User
		err  error
	)
	if role != "" {
		list, err = users.ListByRole(ctx, role)
	} else {
		list, err = users.ListAll(ctx)
	}
	if err != nil {
		fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
		return
	}

	fmt.Printf("  %s%-38s %-20s %-28s %s%s\n", Bold, "EXTERNAL_ID", "USERNAME", "EMAIL", "ROLES", Reset)
	fmt.Printf("  %s%s%s\n", Dim, strings.Repeat("-", 110), Reset)
	for _, u := range list {
		email := ""
		if u.Email != nil {
			email = *u.Email
		}
		fmt.Printf("  %-38s %-20s %-28s %s%s%s\n",
			u.ExternalID, u.Username, email, Cyan, strings.Join(u.Roles, ","), Reset)
	}
	fmt.Printf("  %s%d user(s)%s\n", Dim, len(list), Reset)
}

func getUser(externalID string) {
	if !dbReady(apiDB, "api") {
		return
	}
	ctx, cancel := cmdContext()
	defer cancel()

	u, err := store.NewUserStore(apiDB).FindByExternalID(ctx, externalID)
	if err != nil {
		fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
		return
	}
	if u == nil {
		fmt.Printf("  %s[x] no user with externalId %s%s\n", Red, externalID, Reset)
		return
	}

	email := "-"
	if u.Email != nil {
		email = *u.Email
	}
	fmt.Printf("  %sid:%s          %s\n", Dim, Reset, u.ID)
	fmt.Printf("  %sexternalId:%s  %s\n", Dim, Reset, u.ExternalID)
	fmt.Printf("  %susername:%s    %s\n", Dim, Reset, u.Username)
	fmt.Printf("  %semail:%s       %s\n", Dim, Reset, email)
	fmt.Printf("  %sname:%s        %s %s\n", Dim, Reset, u.FirstName, u.LastName)
	fmt.Printf("  %sroles:%s       %s\n", Dim, Reset, strings.Join(u.Roles, ", "))
	fmt.Printf("  %screated:%s     %s\n", Dim, Reset, u.CreatedAt.Format(time.RFC3339))
}

func countUsers() {
	if !dbReady(apiDB, "api") {
		return
	}
	var count int
	if err := apiDB.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
		return
	}
	fmt.Printf("  %s%d%s users\n", Bold, count, Reset)
}

// deleteUser goes through the API so the full deletion flow runs.
func deleteUser(externalID, reason string) {
	target := apiURL + "/users/" + url.PathEscape(externalID)
	if reason != "" {
		target += "?reason=" + url.QueryEscape(reason)
	}

	req, err := http.NewRequest(http.MethodDelete, target, nil)
	if err != nil {
		fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
		return
	}
	if token := os.Getenv("CLI_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
		return
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)

	if resp.StatusCode == http.StatusOK {
		fmt.Printf("  %s[ok] deleted%s\n  %s\n", Green, Reset, buf.String())
	} else {
		fmt.Printf("  %s[x] %d%s %s\n", Red, resp.StatusCode, Reset, buf.String())
	}
}

// ---------------------------------------------------------------------------
// Deletions
// ---------------------------------------------------------------------------

func showDeletions(failedOnly bool) {
	if !dbReady(apiDB, "api") {
		return
	}
	if failedOnly {
		showFailedDeletions()
		return
	}

	rows, err := apiDB.Query(`SELECT external_id, stage, reason, created_at
		FROM account_deletions ORDER BY created_at DESC LIMIT 20`)
	if err != nil {
		fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
		return
	}
	defer rows.Close()

	fmt.Printf("  %s%-38s %-24s %-20s %s%s\n", Bold, "EXTERNAL_ID", "STATE", "REASON", "TIME", Reset)
	fmt.Printf("  %s%s%s\n", Dim, strings.Repeat("-", 100), Reset)
	for rows.Next() {
		var externalID, stage, reason string
		var at time.Time
		if err := rows.Scan(&externalID, &stage, &reason, &at); err != nil {
			fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
			return
		}
		fmt.Printf("  %-38s %s%-24s%s %-20s %s\n",
			externalID, stateColor(stage), stage, Reset, reason, at.Format("2006-01-02 15:04:05"))
	}
}

func showFailedDeletions() {
	ctx, cancel := cmdContext()
	defer cancel()

	audits, err := store.NewAuditStore(apiDB).ListFailed(ctx, 20)
	if err != nil {
		fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
		return
	}
	if len(audits) == 0 {
		fmt.Printf("  %sNo failures%s\n", Green, Reset)
		return
	}
	for _, a := range audits {
		fmt.Printf("  %s[x]%s %-38s %s%-24s%s %s\n", Red, Reset, a.ExternalID, stateColor(a.Stage), a.Stage, Reset,
			a.CreatedAt.Format("2006-01-02 15:04:05"))
		if a.Error != "" {
			fmt.Printf("      %s%s%s\n", Dim, a.Error, Reset)
		}
		if a.Stage == "local_delete_failed" {
			fmt.Printf("      %sidentity provider account already removed, local row needs manual cleanup%s\n", Yellow, Reset)
		}
	}
}

func stateColor(state string) string {
	switch {
	case strings.HasSuffix(state, "_failed"):
		return Red
	case state == "locally_deleted":
		return Green
	default:
		return Yellow
	}
}

func showProcessed(service string) {
	service = strings.ToLower(service)
	db, ok := cleanupDBs[service]
	if !ok {
		db = apiDB
	}
	if !dbReady(db, service) {
		return
	}

	rows, err := db.Query(`SELECT user_external_id, reason, deletion_timestamp, processed_at
		FROM processed_deletions ORDER BY processed_at DESC LIMIT 20`)
	if err != nil {
		fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
		return
	}
	defer rows.Close()

	fmt.Printf("  %s%-38s %-20s %-20s %s%s\n", Bold, "EXTERNAL_ID", "REASON", "DELETED_AT", "PROCESSED_AT", Reset)
	for rows.Next() {
		var externalID, reason string
		var deletedAt, processedAt time.Time
		if err := rows.Scan(&externalID, &reason, &deletedAt, &processedAt); err != nil {
			fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
			return
		}
		fmt.Printf("  %-38s %-20s %-20s %s\n", externalID, reason,
			deletedAt.Format("2006-01-02 15:04:05"), processedAt.Format("2006-01-02 15:04:05"))
	}
}

// ---------------------------------------------------------------------------
// Shared DB helpers
// ---------------------------------------------------------------------------

func showTables(db *sql.DB, label string) {
	if !dbReady(db, label) {
		return
	}
	rows, err := db.Query("SELECT tablename FROM pg_tables WHERE schemaname = 'public'")
	if err != nil {
		fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
		return
	}
	defer rows.Close()
	fmt.Printf("  %s%s%s tables:\n", Bold, label, Reset)
	for rows.Next() {
		var name string
		_ = rows.Scan(&name)
		fmt.Printf("  - %s\n", name)
	}
}

func rawSQL(db *sql.DB, label, query string) {
	if !dbReady(db, label) {
		return
	}
	rows, err := db.Query(query)
	if err != nil {
		fmt.Printf("  %s[x] %v%s\n", Red, err, Reset)
		return
	}
	defer rows.Close()
	cols, _ := rows.Columns()
	fmt.Printf("  %s%s%s\n", Bold, strings.Join(cols, "\t"), Reset)
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		_ = rows.Scan(ptrs...)
		parts := make([]string, len(cols))
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			parts[i] = fmt.Sprintf("%v", v)
		}
		fmt.Printf("  %s\n", strings.Join(parts, "\t"))
	}
}
