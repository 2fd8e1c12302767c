package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bgtask/internal/app"
)

func main() {
	var (
		cfgPath string
		check   bool
		history int
		task    string
	)
	flag.StringVar(&cfgPath, "config", "./bgtask.yaml", "path to config (yaml or json)")
	flag.BoolVar(&check, "check", false, "validate the config and exit")
	flag.IntVar(&history, "history", 0, "print the last N run records as JSON lines and exit")
	flag.StringVar(&task, "task", "", "limit -history to one task")
	flag.Parse()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if check {
		fmt.Println("config ok")
		return
	}
	if history > 0 {
		os.Exit(printHistory(a, task, history))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	var reason app.StopReason
	select {
	case sig := <-sigCh:
		reason = app.SignalReason(sig)
	case <-a.Done():
		reason = app.StopFatalError
	}
	cancel()

	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func printHistory(a *app.App, task string, n int) int {
	st := a.Store()
	if st == nil {
		fmt.Fprintln(os.Stderr, "storage is disabled")
		return 1
	}
	defer st.Close()
	recs, err := st.RecentRuns(context.Background(), task, n)
	if err != nil {
		fmt.Fprintln(os.Stderr, "history:", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	for i := len(recs) - 1; i >= 0; i-- {
		_ = enc.Encode(recs[i])
	}
	return 0
}
