package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roster/roster/internal/csvcodec"
	"github.com/roster/roster/internal/model"
)

var firstNames = []string{"Ada", "Grace", "Linus", "Barbara", "Ken", "Margaret", "Dennis", "Frances"}

type output struct {
	Path  string `json:"path"`
	Users int    `json:"users"`
	Bytes int    `json:"bytes"`
}

// seed-users writes a CSV of synthetic users in the export format, ready for
// POST /users/import.
func main() {
	var (
		out    = flag.String("out", "users_export.csv", "Output file, usually under DATA_DIR")
		count  = flag.Int("count", 100, "Number of users to generate")
		domain = flag.String("domain", "example.com", "Email domain")
		format = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *count <= 0 {
		fmt.Fprintln(os.Stderr, "count must be positive")
		os.Exit(1)
	}

	users := generateUsers(*count, *domain, time.Now().UTC())

	data, err := csvcodec.Encode(users)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode csv:", err)
		os.Exit(1)
	}

	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, "create directory:", err)
			os.Exit(1)
		}
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "write file:", err)
		os.Exit(1)
	}

	result := output{Path: *out, Users: len(users), Bytes: len(data)}
	if *format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}

	fmt.Printf("Path: %s\n", result.Path)
	fmt.Printf("Users: %d\n", result.Users)
	fmt.Printf("Bytes: %d\n", result.Bytes)
}

func generateUsers(n int, domain string, now time.Time) []*model.User {
	users := make([]*model.User, n)
	for i := range users {
		first := firstNames[rand.Intn(len(firstNames))]
		users[i] = &model.User{
			ID:        uuid.NewString(),
			Name:      fmt.Sprintf("%s %d", first, i+1),
			Email:     fmt.Sprintf("%s.%d@%s", strings.ToLower(first), i+1, domain),
			Age:       uint8(18 + rand.Intn(60)),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return users
}
