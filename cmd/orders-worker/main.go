// Command orders-worker obtains a machine-to-machine token with the
// client-credentials grant and calls the orders API.
//
// Usage: orders-worker [-log-level debug] [read|write]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"ordersguard/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("orders-worker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	logLevel := fs.String("log-level", "warn", "Logging level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return client.ExitFailure
	}
	logger, err := client.NewLogger(*logLevel, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return client.ExitFailure
	}
	mode := client.ParseMode(fs.Arg(0))

	cfg, err := client.LoadWorkerConfig()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return client.ExitCode(err)
	}

	httpClient := client.NewHTTPClient()
	flow := &client.ClientCredentialsFlow{
		Issuer:       client.IssuerURL(cfg.Domain),
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Audience:     cfg.Audience,
		HTTPClient:   httpClient,
		Logger:       logger,
	}
	tok, err := flow.Exchange(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return client.ExitCode(err)
	}

	fmt.Fprintln(stdout, "Got access token (truncated):", tok.Truncated(20))
	fmt.Fprintf(stdout, "Token scope: %s  (expires_in=%ds)\n", tok.Scope, tok.ExpiresIn)

	caller := client.NewAPICaller(cfg.APIBase, tok, httpClient)
	if err := caller.Report(ctx, mode, client.WorkerOrder, stdout, stderr); err != nil {
		fmt.Fprintln(stderr, err)
		return client.ExitCode(err)
	}
	return client.ExitOK
}
