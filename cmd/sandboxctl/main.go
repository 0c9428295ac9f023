// Command sandboxctl runs one-off operations inside a sandbox: it
// acquires a sandbox for a thread through the pooled provider, performs
// the requested operation, and tears the sandbox down on exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/eric11eca/thinktank-ai/app/clients"
	"github.com/eric11eca/thinktank-ai/app/pool"
	"github.com/eric11eca/thinktank-ai/app/sandbox"
)

const usage = `usage: sandboxctl [flags] <command> [args]

commands:
  exec <shell command>     run a command in the thread's sandbox
  read <path>              print a sandbox file to stdout
  write <path> <file>      copy a local file into the sandbox
  ls <path>                list a directory tree
  destroy <sandbox-id>     delete a stray sandbox by id

flags:
`

func main() {
	configPath := flag.String("config", os.Getenv("SANDBOX_CONFIG"), "pool config YAML (default $SANDBOX_CONFIG)")
	threadID := flag.String("thread", "", "thread id the sandbox belongs to")
	userID := flag.String("user", "", "user id for quota attribution")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.APIURL == "" {
		log.Fatal("no provisioner API URL configured (set api_url in the config file)")
	}

	backend := clients.NewProvisionerClient(cfg.APIURL, cfg.APIKey)
	ctx := context.Background()

	// destroy works on a raw sandbox id, without going through the pool
	if args[0] == "destroy" {
		if len(args) != 2 {
			log.Fatal("destroy requires a sandbox id")
		}
		if err := backend.DeleteSandbox(ctx, args[1]); err != nil {
			log.Fatalf("failed to destroy sandbox %s: %v", args[1], err)
		}
		log.Printf("destroyed sandbox %s", args[1])
		return
	}

	if *threadID == "" {
		log.Fatal("-thread is required")
	}

	provider := pool.NewPooledProvider(cfg, backend)
	pool.NotifySignals()
	defer provider.Shutdown()

	sandboxID, err := provider.Acquire(ctx, *threadID, *userID)
	if err != nil {
		log.Fatalf("failed to acquire sandbox: %v", err)
	}
	sb := provider.Get(sandboxID)
	if sb == nil {
		log.Fatalf("sandbox %s vanished after acquire", sandboxID)
	}
	log.Printf("using sandbox %s for thread %s", sandboxID, *threadID)

	if err := run(ctx, sb, args); err != nil {
		provider.Shutdown()
		log.Fatal(err)
	}
}

func run(ctx context.Context, sb sandbox.Sandbox, args []string) error {
	switch args[0] {
	case "exec":
		if len(args) < 2 {
			return fmt.Errorf("exec requires a command")
		}
		start := time.Now()
		output := sb.ExecuteCommand(ctx, strings.Join(args[1:], " "))
		fmt.Println(output)
		log.Printf("command finished in %s", time.Since(start).Round(time.Millisecond))
		return nil

	case "read":
		if len(args) != 2 {
			return fmt.Errorf("read requires a path")
		}
		fmt.Print(sb.ReadFile(ctx, args[1]))
		return nil

	case "write":
		if len(args) != 3 {
			return fmt.Errorf("write requires a sandbox path and a local file")
		}
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[2], err)
		}
		if err := sb.WriteFile(ctx, args[1], string(data), false); err != nil {
			return fmt.Errorf("failed to write %s: %w", args[1], err)
		}
		log.Printf("wrote %d bytes to %s", len(data), args[1])
		return nil

	case "ls":
		if len(args) != 2 {
			return fmt.Errorf("ls requires a path")
		}
		for _, entry := range sb.ListDir(ctx, args[1], 0) {
			fmt.Println(entry)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func loadConfig(path string) (*pool.Config, error) {
	if path == "" {
		return pool.DefaultConfig(), nil
	}
	return pool.LoadConfig(path)
}
