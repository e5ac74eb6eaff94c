package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"flock/pkg/memory"
	"flock/pkg/program"
	"flock/pkg/types"
	"flock/pkg/vm"
)

// Config represents the configuration loaded from the JSON file
type Config struct {
	GlobalCapacity uint64 `json:"global_capacity"` // Global space budget in bytes
	GlobalRegion   uint64 `json:"global_region"`   // Pre-mapped global region in bytes
	LocalCapacity  uint64 `json:"local_capacity"`  // Per-thread local space budget in bytes
	LocalRegion    uint64 `json:"local_region"`    // Pre-mapped local region in bytes
	TracePath      string `json:"trace_path"`      // Per-step trace log file, empty to disable
}

func main() {
	programPath := flag.String("run", "", "Path to a program file to execute")
	configPath := flag.String("config-path", "", "Path to a JSON configuration file")
	tracePath := flag.String("trace-path", "", "Path to a per-step trace log file")

	flag.Parse()

	if *programPath == "" {
		log.Fatal("Error: --run flag is required")
	}

	var config Config

	if *configPath != "" {
		// Load from JSON file
		configData, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatalf("Failed to read config file: %v", err)
		}

		err = json.Unmarshal(configData, &config)
		if err != nil {
			log.Fatalf("Failed to parse config file: %v", err)
		}
	}

	if *tracePath != "" {
		config.TracePath = *tracePath
	}
	if config.TracePath != "" {
		if err := vm.InitTraceLogger(config.TracePath); err != nil {
			log.Fatalf("Failed to open trace log: %v", err)
		}
	}

	source, err := os.ReadFile(*programPath)
	if err != nil {
		log.Fatalf("Failed to read program file: %v", err)
	}

	prog, err := program.Parse(string(source))
	if err != nil {
		log.Fatalf("Failed to parse program: %v", err)
	}

	proc, err := vm.NewProcess(prog, memory.Config{
		GlobalCapacity: types.Word(config.GlobalCapacity),
		GlobalRegion:   types.Word(config.GlobalRegion),
		LocalCapacity:  types.Word(config.LocalCapacity),
		LocalRegion:    types.Word(config.LocalRegion),
	})
	if err != nil {
		log.Fatalf("Failed to create process: %v", err)
	}

	status, err := proc.Run(context.Background())
	if err != nil {
		log.Fatalf("Execution failed: %v", err)
	}

	os.Exit(int(status & 0xff))
}
