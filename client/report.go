package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Mode selects which API operation a client exercises after token acquisition.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// ParseMode reads the optional positional argument. Anything other than
// "write" (case-insensitive) is read mode.
func ParseMode(arg string) Mode {
	if strings.EqualFold(strings.TrimSpace(arg), string(ModeWrite)) {
		return ModeWrite
	}
	return ModeRead
}

// NewLogger returns a JSON logger on w at the named level.
func NewLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// Report performs the operation for mode and writes the diagnostic, to
// stdout on success and stderr otherwise. API refusals are not errors;
// only transport failures are returned.
func (c *APICaller) Report(ctx context.Context, mode Mode, order any, stdout, stderr io.Writer) error {
	var resp Response
	var err error
	if mode == ModeWrite {
		resp, err = c.CreateOrder(ctx, order)
	} else {
		resp, err = c.ListOrders(ctx)
	}
	if err != nil {
		return err
	}
	if resp.Outcome == OutcomeSuccess {
		fmt.Fprintln(stdout, resp.Describe())
	} else {
		fmt.Fprintln(stderr, resp.Describe())
	}
	return nil
}
