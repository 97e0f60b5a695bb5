package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/uavlab/mavconform"
)

func main() {
	var (
		server   = flag.String("server", "", "path to the generated server binary under test")
		dialect  = flag.String("dialect", "", "path to the dialect: MAVLink XML definition or generator descriptor YAML")
		seed     = flag.Int64("seed", 0, "random seed for message synthesis, 0 derives one from the clock")
		logFrame = flag.Bool("log-frame", false, "prints sent and received frames")
	)
	flag.Parse()

	logger := slog.Default()
	if *server == "" || *dialect == "" {
		fmt.Fprintln(os.Stderr, "usage: mavconform -server <binary> -dialect <definition>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	d, err := mavconform.LoadDialect(*dialect)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	logger.Info("starting conformance run",
		"dialect", d.Name, "messages", len(d.Messages), "seed", *seed)

	session := mavconform.NewSession(*server, d)
	session.Rand = rand.New(rand.NewSource(*seed))
	if *logFrame {
		session.Logger = &debugAdapter{logger}
	}

	if err := session.Run(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	logger.Info("all message types verified", "dialect", d.Name)
}
