package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"
)

var errNotConfirmed = errors.New("aborted: not confirmed")

// confirm asks a yes/no question on out and reads the answer from in.
// Only "y" or "yes" counts as consent.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirmDestructive gets consent before anything is written. Without a
// terminal on stdin the only way through is --yes. Ctrl-C at the prompt
// exits with 130.
func confirmDestructive(st streams, target string, yes bool) error {
	if yes {
		return nil
	}
	if !st.interactive {
		return fmt.Errorf("stdin is not a terminal; pass --yes to confirm writing to %s", target)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-sig; ok {
			fmt.Fprintln(st.errOut, "\nInterrupted")
			os.Exit(exitInterrupted)
		}
	}()
	defer func() {
		signal.Stop(sig)
		close(sig)
	}()

	ok, err := confirm(st.in, st.out, fmt.Sprintf("ALL DATA on %s will be destroyed. Continue?", target))
	if err != nil {
		return err
	}
	if !ok {
		return errNotConfirmed
	}
	return nil
}
