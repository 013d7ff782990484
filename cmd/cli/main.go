// Command cli is a small interactive client for moonkv.
//
// With arguments it sends them as one command and prints the reply,
// without arguments it starts a prompt reading one command per line.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:      "moonkv-cli",
		Usage:     "send commands to a moonkv server",
		ArgsUsage: "[command [arg ...]]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "server host",
				EnvVars: []string{"MOONKV_HOST"},
				Value:   "127.0.0.1",
			},
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "server port",
				EnvVars: []string{"MOONKV_PORT"},
				Value:   "6379",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "dial timeout",
				Value: 5 * time.Second,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	addr := net.JoinHostPort(c.String("host"), c.String("port"))

	client, err := Dial(addr, c.Duration("timeout"))
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer client.Close()

	if c.NArg() > 0 {
		reply, err := client.Do(c.Args().Slice()...)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, FormatReply(reply))
		return nil
	}

	return repl(client, addr, os.Stdin, c.App.Writer)
}

// repl reads commands line by line until EOF or quit
func repl(client *Client, prompt string, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	for {
		fmt.Fprintf(out, "%s> ", prompt)

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := err != nil

		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			return nil
		}

		if line != "" {
			args, perr := SplitArgs(line)
			switch {
			case perr != nil:
				fmt.Fprintf(out, "(error) %v\n", perr)
			case len(args) > 0:
				reply, derr := client.Do(args...)
				if derr != nil {
					return derr
				}
				fmt.Fprintln(out, FormatReply(reply))
			}
		}

		if eof {
			fmt.Fprintln(out)
			return nil
		}
	}
}
