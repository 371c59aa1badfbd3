// dmvwatch polls DMV office booking pages and notifies on fresh availability.
//
//	dmvwatch run   -config config.yaml [-checker http|agent] [-once] [-no-notify]
//	dmvwatch serve -config config.yaml [-addr :8080]
//
// serve also honors DMVWATCH_CONFIG, DMVWATCH_CHECKER and DMVWATCH_NO_NOTIFY
// so a unit file can stay flag-free.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"dmvwatch/internal/app"
	"dmvwatch/internal/envutil"
)

func main() {
	// Secrets come from the environment; a local .env is a convenience,
	// not a requirement.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var opts app.Options
	switch os.Args[1] {
	case "run":
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		fs.StringVar(&opts.ConfigPath, "config", "config.yaml", "path to config file")
		fs.StringVar(&opts.CheckerOverride, "checker", "", "override probe strategy (http or agent)")
		fs.BoolVar(&opts.RunOnce, "once", false, "run a single iteration and exit")
		fs.BoolVar(&opts.NoNotify, "no-notify", false, "log findings without sending notifications")
		_ = fs.Parse(os.Args[2:])
	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		fs.StringVar(&opts.ConfigPath, "config", "config.yaml", "path to config file")
		fs.StringVar(&opts.AddrOverride, "addr", "", "override listen address")
		_ = fs.Parse(os.Args[2:])
		opts.Serve = true
		if p := envutil.String("DMVWATCH_CONFIG"); p != "" {
			opts.ConfigPath = p
		}
		opts.CheckerOverride = envutil.String("DMVWATCH_CHECKER")
		opts.NoNotify = envutil.Bool("DMVWATCH_NO_NOTIFY", false)
	default:
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dmvwatch <run|serve> [flags]")
}
