package logging

import (
	"fmt"
	"io"
)

// EarlyLog reports problems that happen before the configured logger
// exists, such as an unreadable config file. It never exits; callers return
// the error so cobra sets the exit status.
type EarlyLog struct {
	out     io.Writer
	service string
}

func NewEarlyLog(out io.Writer, service string) *EarlyLog {
	return &EarlyLog{out: out, service: service}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write("ERROR", msg, args...)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write("WARN", msg, args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.write("INFO", msg, args...)
}

func (l *EarlyLog) write(level, msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "%s %s: %s\n", level, l.service, fmt.Sprintf(msg, args...))
}
