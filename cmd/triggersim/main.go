package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/eventtrigger/pkg/config"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("triggersim", "Replay image sequences through the event trigger engine")
	scenarioFile := parser.String("s", "scenario", &argparse.Options{Help: "Scenario JSON file", Required: true})
	loops := parser.Int("n", "loops", &argparse.Options{Help: "Number of times to replay each stream", Default: 1})
	listen := parser.String("l", "listen", &argparse.Options{Help: "Override the live feed address of the scenario, eg :8080", Default: ""})
	hold := parser.Flag("", "hold", &argparse.Options{Help: "Keep serving the live feed after the replay, until interrupted", Default: false})
	faceCascade := parser.String("", "cascade", &argparse.Options{Help: "Haar cascade for face detection (OpenCV builds only)", Default: "haarcascade_frontalface_default.xml"})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Log person tracking transitions", Default: false})
	showStats := parser.Flag("", "stats", &argparse.Options{Help: "Print trigger statistics as JSON when done", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	scenario, err := config.LoadScenario(*scenarioFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		scenario.Listen = *listen
	}
	if !haveOpenCV {
		logger.Infof("Built without OpenCV. Only MovementDetected events are available.")
	}

	sim, err := NewSim(logger, scenario, newToolkit(*faceCascade), *verbose)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer sim.Close()

	if err := sim.Register(); err != nil {
		logger.Errorf("%v", err)
		sim.Close()
		os.Exit(1)
	}
	if err := sim.Listen(); err != nil {
		logger.Errorf("Failed to start live feed: %v", err)
		sim.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sim.Replay(ctx, *loops); err != nil && ctx.Err() == nil {
		logger.Errorf("Replay failed: %v", err)
	}
	logger.Infof("Replay finished. Dispatches: %v", sim.Dispatches())
	if *showStats {
		j, _ := json.MarshalIndent(sim.Manager.Stats(), "", "  ")
		fmt.Println(string(j))
	}
	if *hold && sim.Feed != nil && ctx.Err() == nil {
		logger.Infof("Holding live feed open. Press Ctrl+C to exit.")
		<-ctx.Done()
	}
}
