package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// All user facing messages go to the console and, once setupLog ran, to a
// timestamped log file as well. Errors printed right before an exit use
// the same channel so a failed overnight run leaves a trace.

var logFile *os.File

// setupLog creates the log directory if needed and opens a fresh
// timestamped log file in it.
func setupLog(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create log directory %s", dir)
	}
	name := filepath.Join(dir, fmt.Sprintf("neat_%s.log", time.Now().Format("20060102_150405")))
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("could not open log file %s", name)
	}
	logFile = f
	return nil
}

func closeLog() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// logPrintf prints a message to the console and mirrors it to the log
// file with a timestamp prefix.
func logPrintf(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	fmt.Println(msg)
	if logFile != nil {
		fmt.Fprintf(logFile, "%s %s\n", time.Now().Format("2006-01-02 15:04:05"), msg)
	}
}
