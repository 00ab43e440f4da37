package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/sushant-115/policytxn/core/protocol"
	"github.com/sushant-115/policytxn/pkg/connection"
)

var (
	addr       string
	scriptPath string
	timeout    time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "txnode_cli [payload ...]",
		Short: "Drive a transaction node with raw payload lines",
		Long: "Each payload is one line, e.g. \"B 1,R 1 1 1\", \"C 1\" or \"EXIT\".\n" +
			"With no payloads and no --script the CLI starts an interactive shell.",
		SilenceUsage: true,
		RunE:         run,
	}
	f := rootCmd.Flags()
	f.StringVarP(&addr, "addr", "a", "127.0.0.1:7101", "node address")
	f.StringVarP(&scriptPath, "script", "f", "", "file with one payload per line")
	f.DurationVar(&timeout, "timeout", 30*time.Second, "per-payload timeout")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	conn, err := connection.Dial(addr, timeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()

	switch {
	case scriptPath != "":
		f, err := os.Open(scriptPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return runScript(conn, f)
	case len(args) > 0:
		return runScript(conn, strings.NewReader(strings.Join(args, "\n")))
	default:
		return shellLoop(conn)
	}
}

// runScript sends every non-empty, non-comment line and stops after the
// session ends.
func runScript(conn *connection.PeerConn, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = normalize(line)
		reply, err := conn.Send(context.Background(), line)
		if err != nil {
			return err
		}
		fmt.Printf("%s -> %s\n", line, reply)
		if sessionOver(line) {
			return nil
		}
	}
	return scanner.Err()
}

func shellLoop(conn *connection.PeerConn) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "txnode> ",
		HistoryFile:       "/tmp/txnode_cli.history",
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	fmt.Printf("Connected to %s. Type payloads, e.g. \"B 1,R 1 1 1\"; \\q leaves without ending the session.\n", addr)
	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if len(line) == 0 {
					return nil
				}
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case `\q`:
			return nil
		}
		reply, err := conn.Send(context.Background(), normalize(line))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		if sessionOver(line) {
			return nil
		}
	}
}

// normalize re-encodes a well-formed group so stray spaces around commas
// never reach the node. Anything else is sent as typed.
func normalize(payload string) string {
	msg, err := protocol.ParseMessage(payload)
	if err != nil || msg.Control != nil {
		return payload
	}
	return protocol.EncodeGroup(msg.Group...)
}

// sessionOver reports whether the node closes the session after payload:
// control messages always do, groups only when they carry EXIT.
func sessionOver(payload string) bool {
	msg, err := protocol.ParseMessage(payload)
	if err != nil {
		return true
	}
	if msg.Control != nil {
		return true
	}
	for _, op := range msg.Group {
		if op.Kind == protocol.OpExit {
			return true
		}
	}
	return false
}
