package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/fatih/color"

	"github.com/ClearskyLabs/calsync/client"
	"github.com/ClearskyLabs/calsync/models"
)

var (
	logger    *charmlog.Logger
	serverURL string
	verbose   bool
)

func init() {
	logger = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "calsyncc",
	})

	flag.StringVar(&serverURL, "server", "http://127.0.0.1:8080", "calsyncd base URL")
	flag.BoolVar(&verbose, "verbose", false, "enable debug logging")
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: calsyncc [flags] <command> [args]

Commands:
  get            print the current calendar document
  put <file>     replace the calendar document with the JSON in <file>
  watch          follow push-channel updates until interrupted
  ping           check the server is up
  stats          print document statistics

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if verbose {
		logger.SetLevel(charmlog.DebugLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	// charmbracelet/log doubles as an slog handler, so the client library's
	// slog-based logging renders through the same CLI styling.
	c, err := client.New(client.Config{
		ServerURL: serverURL,
		Logger:    slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{Prefix: "client"})),
	})
	if err != nil {
		logger.Fatal("Could not create client", "error", err)
	}

	switch args[0] {
	case "get":
		runGet(c)
	case "put":
		if len(args) < 2 {
			logger.Fatal("put requires a file argument")
		}
		runPut(c, args[1])
	case "watch":
		runWatch(c)
	case "ping":
		runPing(c)
	case "stats":
		runStats(c)
	default:
		logger.Error("Unknown command", "command", args[0])
		usage()
		os.Exit(1)
	}
}

func runGet(c *client.Client) {
	doc, err := c.GetCalendar()
	if err != nil {
		logger.Fatal("Get failed", "error", err)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		logger.Fatal("Could not render document", "error", err)
	}
	fmt.Println(string(out))
}

func runPut(c *client.Client, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal("Could not read file", "path", path, "error", err)
	}

	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Fatal("File is not a calendar document", "path", path, "error", err)
	}

	commit, err := c.UpdateCalendar(&doc)
	if err != nil {
		logger.Fatal("Update failed", "error", err)
	}
	color.Green("Committed version %d (lastModified %d)", commit.Version, commit.LastModified)
}

func runWatch(c *client.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	err := c.Subscribe(ctx, func(env models.Envelope) {
		switch env.Type {
		case models.MsgInitData:
			color.Cyan("-- initial state: version %d, %d events, %d vacations",
				env.Data.Version, len(env.Data.Events), len(env.Data.Vacations))
		case models.MsgDataUpdate:
			color.Yellow("-- update: version %d, %d events, %d vacations",
				env.Data.Version, len(env.Data.Events), len(env.Data.Vacations))
		case models.MsgHeartbeat:
			logger.Debug("Heartbeat", "clients", env.Clients)
		case models.MsgError:
			color.Red("-- server error: %s", env.Message)
		default:
			logger.Debug("Envelope", "type", env.Type)
		}
	})
	if err != nil && ctx.Err() == nil {
		logger.Fatal("Watch ended", "error", err)
	}
}

func runPing(c *client.Client) {
	if err := c.Ping(); err != nil {
		logger.Fatal("Ping failed", "error", err)
	}
	color.Green("OK")
}

func runStats(c *client.Client) {
	stats, err := c.Stats()
	if err != nil {
		logger.Fatal("Stats failed", "error", err)
	}
	fmt.Printf("events:       %d\n", stats.Events)
	fmt.Printf("vacations:    %d\n", stats.Vacations)
	fmt.Printf("version:      %d\n", stats.Version)
	fmt.Printf("lastModified: %d\n", stats.LastModified)
	fmt.Printf("clients:      %d\n", stats.Clients)
}
