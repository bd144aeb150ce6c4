package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/pflag"

	"gitlab.com/timkado/api/doc-translate-service/internal/bootstrap"
	"gitlab.com/timkado/api/doc-translate-service/pkg/contextkeys"
)

func main() {
	flags := pflag.NewFlagSet("doc-translate-scheduler", pflag.ExitOnError)
	task := flags.StringP("task", "t", "", "run one batch task and exit ("+strings.Join(bootstrap.Tasks(), ", ")+")")
	serve := flags.Bool("serve", false, "run every batch task on its configured interval until terminated")
	_ = flags.Parse(os.Args[1:])

	if (*task == "") == !*serve {
		fmt.Fprintln(os.Stderr, "exactly one of --task or --serve is required")
		flags.Usage()
		os.Exit(2)
	}
	if *task != "" && !slices.Contains(bootstrap.Tasks(), *task) {
		fmt.Fprintf(os.Stderr, "unknown task %q\n", *task)
		os.Exit(2)
	}

	ctx := context.WithValue(context.Background(), contextkeys.RequestIDKey, "scheduler-main")
	app, cleanup, err := bootstrap.InitializeScheduler(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize scheduler: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if *serve {
		if err := app.Serve(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Scheduler failed: %v\n", err)
			cleanup()
			os.Exit(1)
		}
		return
	}

	res, ran, err := app.RunOnce(ctx, *task)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Task %s failed: %v\n", *task, err)
		cleanup()
		os.Exit(1)
	}
	if !ran {
		fmt.Fprintf(os.Stdout, "Task %s is already running elsewhere\n", *task)
		return
	}
	out, _ := json.Marshal(res)
	fmt.Fprintln(os.Stdout, string(out))
}
