package vm

import (
	"log"
	"os"
)

var traceLogger *log.Logger

// InitTraceLogger enables per-step execution tracing to the given
// file. Tracing is off until this is called.
func InitTraceLogger(filename string) error {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	traceLogger = log.New(file, "", 0)
	return nil
}
