package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ParseArgs parses [up|down|status] [steps], defaulting to "up" and one step.
func ParseArgs(args []string) (string, int, error) {
	subcommand := "up"
	if len(args) > 0 {
		subcommand = args[0]
	}
	switch subcommand {
	case "up", "down", "status":
	default:
		return "", 0, fmt.Errorf("unknown migrate subcommand %q (expected up, down or status)", subcommand)
	}

	steps := 1
	if len(args) > 1 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			return "", 0, fmt.Errorf("invalid down steps %q", args[1])
		}
		steps = parsed
	}
	if len(args) > 2 {
		return "", 0, errors.New("too many arguments")
	}
	return subcommand, steps, nil
}

// Run executes a parsed subcommand and reports the outcome on out.
func Run(ctx context.Context, m *Manager, subcommand string, steps int, out io.Writer) error {
	switch subcommand {
	case "up":
		n, err := m.Up(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "applied %d migration(s)\n", n)
	case "down":
		if steps <= 0 {
			return errors.New("steps must be greater than zero")
		}
		n, err := m.Down(ctx, steps)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "reverted %d migration(s)\n", n)
	case "status":
		status, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, v := range status.AppliedVersions {
			fmt.Fprintf(out, "applied  %d\n", v)
		}
		for _, p := range status.Pending {
			fmt.Fprintf(out, "pending  %d_%s\n", p.Version, p.Name)
		}
	default:
		return fmt.Errorf("unknown migrate subcommand %q", subcommand)
	}
	return nil
}
