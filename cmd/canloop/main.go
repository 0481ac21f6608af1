package main

import (
	"context"
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/samsamfire/gocanloop/pkg/can"
	_ "github.com/samsamfire/gocanloop/pkg/can/socketcan"
	_ "github.com/samsamfire/gocanloop/pkg/can/socketcanv2"
	_ "github.com/samsamfire/gocanloop/pkg/can/virtual"
	"github.com/samsamfire/gocanloop/pkg/config"
	"github.com/samsamfire/gocanloop/pkg/exchange"
	log "github.com/sirupsen/logrus"
)

// Interface name used to run without any driver (silent loopback only)
const NoInterface = "none"

func main() {
	parser := argparse.NewParser("canloop", "CAN bus exchange self test : write, read back, time and dedupe")
	configPath := parser.String("c", "config", &argparse.Options{Help: "ini configuration file"})
	canInterface := parser.String("i", "interface", &argparse.Options{Help: "driver : none, socketcan, socketcanv2, virtual"})
	channel := parser.String("C", "channel", &argparse.Options{Help: "channel e.g. can0, vcan0, localhost:18888"})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "debug logging"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(2)
	}

	conf := config.Default()
	if *configPath != "" {
		conf, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("[MAIN] %v", err)
		}
	}
	if *canInterface != "" {
		conf.Bus.Interface = *canInterface
	}
	if *channel != "" {
		conf.Bus.Channel = *channel
	}
	logger := log.StandardLogger()
	conf.ApplyLogger(logger)
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	var driver can.Driver
	if conf.Bus.Interface != NoInterface {
		driver, err = can.NewDriver(conf.Bus.Interface, conf.Bus.Channel)
		if err != nil {
			logger.Fatalf("[MAIN] %v", err)
		}
	}
	controller := can.NewController(driver, logger)
	err = controller.SetFifoDepth(conf.Bus.FifoDepth)
	if err != nil {
		logger.Fatalf("[MAIN] %v", err)
	}

	loop := exchange.NewLoop(controller, conf.Exchange, logger)
	report, err := loop.Run(context.Background())
	if err != nil {
		logger.Fatalf("[MAIN] startup aborted : %v", err)
	}
	logger.WithFields(log.Fields{
		"cycles":    report.Cycles,
		"tx_errors": report.TxErrors,
		"rx_errors": report.RxErrors,
		"records":   report.Records,
	}).Info("[MAIN] exchange finished")
}
