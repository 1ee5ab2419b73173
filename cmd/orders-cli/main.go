// Command orders-cli signs a user in with the device-authorization grant and
// calls the orders API with the resulting token.
//
// Usage: orders-cli [-log-level debug] [read|write]
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
	fs := flag.NewFlagSet("orders-cli", flag.ContinueOnError)
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

	cfg, err := client.LoadCLIConfig()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return client.ExitCode(err)
	}

	scopes := append([]string(nil), client.DefaultDeviceScopes...)
	if mode == client.ModeWrite {
		scopes = append(scopes, "write:orders")
	}

	httpClient := client.NewHTTPClient()
	flow := &client.DeviceFlowClient{
		Issuer:     client.IssuerURL(cfg.Domain),
		ClientID:   cfg.ClientID,
		Audience:   cfg.Audience,
		Scopes:     scopes,
		HTTPClient: httpClient,
		Logger:     logger,
		Prompt:     client.PrintPrompt(stdout),
	}
	res, err := flow.Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "device flow %s: %v\n", res.State, err)
		return client.ExitCode(err)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "== Token received ==")
	fmt.Fprintln(stdout, "access_token (trunc):", res.Token.Truncated(18))
	if res.Token.RefreshToken != "" {
		fmt.Fprintln(stdout, "refresh_token present")
	}

	caller := client.NewAPICaller(cfg.APIBase, res.Token, httpClient)
	if err := caller.Report(ctx, mode, client.CLIOrder, stdout, stderr); err != nil {
		fmt.Fprintln(stderr, err)
		return client.ExitCode(err)
	}
	return client.ExitOK
}
