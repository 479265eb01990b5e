package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"tuzemoon/internal/wallet"
)

// promptApprover asks on out and reads a y/yes answer from in. Anything else,
// including EOF or a cancelled context, declines.
func promptApprover(in io.Reader, out io.Writer) wallet.Approver {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, prompt string) bool {
		fmt.Fprintf(out, "%s [y/N]: ", prompt)

		answer := make(chan string, 1)
		go func() {
			line, _ := reader.ReadString('\n')
			answer <- line
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return false
		case line := <-answer:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return true
			default:
				return false
			}
		}
	}
}
