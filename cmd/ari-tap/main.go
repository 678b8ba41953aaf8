// ari-tap records the raw ARI event stream to a capture file, one JSON
// event per line. Captures feed the correlator fixtures after a pass
// through -sanitize.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Asterisk ARI host")
	port := flag.Int("port", 8088, "Asterisk ARI port")
	user := flag.String("user", "admin", "ARI username")
	password := flag.String("password", "", "ARI password")
	app := flag.String("app", "callflow", "ARI application name")
	outDir := flag.String("outdir", "testdata/captures", "Output directory for captures")
	sanitize := flag.String("sanitize", "", "Sanitize a capture file in-place (keeps .bak)")
	flag.Parse()

	if *sanitize != "" {
		if err := sanitizeFile(*sanitize); err != nil {
			fmt.Fprintf(os.Stderr, "sanitize error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("sanitized:", *sanitize)
		return
	}

	if *password == "" {
		fmt.Fprintln(os.Stderr, "error: -password is required")
		flag.Usage()
		os.Exit(1)
	}

	if err := capture(*host, *port, *user, *password, *app, *outDir); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func capture(host string, port int, user, password, app, outDir string) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	url := fmt.Sprintf("ws://%s/ari/events?api_key=%s:%s&app=%s&subscribeAll=true",
		addr, user, password, app)
	fmt.Printf("connecting to %s...\n", addr)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	filename := filepath.Join(outDir, time.Now().Format("20060102-150405")+".jsonl")
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	fmt.Printf("writing to %s\n", filename)
	fmt.Println("streaming events (ctrl+c to stop)...")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.Write(data)
		f.WriteString("\n")
	}
}

var (
	ipPattern     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	phonePattern  = regexp.MustCompile(`\b1?\d{10}\b`)
	apiKeyPattern = regexp.MustCompile(`(api_key=)[^&"\s]+`)
)

func sanitizeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Create backup
	bakPath := path + ".bak"
	if err := os.WriteFile(bakPath, data, 0o644); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		line = apiKeyPattern.ReplaceAllString(line, "${1}REDACTED")

		// Redact IPs (but preserve localhost)
		line = ipPattern.ReplaceAllStringFunc(line, func(ip string) string {
			if ip == "127.0.0.1" {
				return ip
			}
			return "10.0.0.1"
		})

		// Redact phone numbers in caller id fields
		if strings.Contains(line, "caller") || strings.Contains(line, "connected") {
			line = phonePattern.ReplaceAllString(line, "15550001234")
		}

		lines[i] = line
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}
