// ABOUTME: Helpers for consistent CLI error messages with hints and next steps.
// ABOUTME: Maps control API error codes to the follow-up a user can run.

package main

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
)

type cliError struct {
	msg   string
	next  string
	hints []string
	err   error
}

func (e *cliError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.msg) != "" {
		return e.msg
	}
	if e.err != nil {
		return e.err.Error()
	}
	return "unknown error"
}

func (e *cliError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func newCLIError(msg, next string, hints ...string) error {
	return &cliError{
		msg:   strings.TrimSpace(msg),
		next:  strings.TrimSpace(next),
		hints: normalizeHints(hints),
	}
}

func wrapCLIError(err error, msg, next string, hints ...string) error {
	if err == nil {
		return newCLIError(msg, next, hints...)
	}
	return &cliError{
		msg:   strings.TrimSpace(msg),
		next:  strings.TrimSpace(next),
		hints: normalizeHints(hints),
		err:   err,
	}
}

// annotate attaches a next step for well-known daemon and socket failures.
func annotate(err error) error {
	if err == nil {
		return nil
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return err
	}
	switch errorCode(err) {
	case "v1/request/boosting_disabled":
		return wrapCLIError(err, "", "boostctl enable")
	case "v1/request/unknown_client":
		return wrapCLIError(err, "", "", "limit clients are power and thermal")
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, os.ErrNotExist) {
		return wrapCLIError(err, "", "", "is boostd running? check --socket")
	}
	return err
}

func describeError(err error) (string, string, []string) {
	if err == nil {
		return "", "", nil
	}
	var ce *cliError
	if errors.As(err, &ce) {
		msg := strings.TrimSpace(ce.msg)
		if msg == "" && ce.err != nil {
			msg = ce.err.Error()
		}
		return msg, strings.TrimSpace(ce.next), normalizeHints(ce.hints)
	}
	return err.Error(), "", nil
}

func normalizeHints(hints []string) []string {
	seen := make(map[string]struct{}, len(hints))
	out := make([]string, 0, len(hints))
	for _, hint := range hints {
		value := strings.TrimSpace(hint)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func printError(w io.Writer, err error) {
	if w == nil || err == nil {
		return
	}
	msg, next, hints := describeError(err)
	if msg == "" {
		msg = "unknown error"
	}
	_, _ = io.WriteString(w, "error: "+msg+"\n")
	if code := errorCode(err); code != "" {
		_, _ = io.WriteString(w, "code: "+code+"\n")
	}
	if next != "" {
		_, _ = io.WriteString(w, "next: "+next+"\n")
	}
	for _, hint := range hints {
		_, _ = io.WriteString(w, "hint: "+hint+"\n")
	}
}
