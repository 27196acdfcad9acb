// Command motouds is a thin smoke-test harness over the session
// facade: flag parsing, profile loading and result printing live here
// so the core packages stay free of CLI and report-formatting
// concerns, per the facade's external-collaborator boundary.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sambrody/motouds/config"
	"github.com/sambrody/motouds/session"

	_ "github.com/sambrody/motouds/passthru/brutellacan"
	_ "github.com/sambrody/motouds/passthru/socketcan"
	_ "github.com/sambrody/motouds/passthru/virtual"
)

func main() {
	log.SetLevel(log.InfoLevel)

	profilePath := flag.String("config", "", "path to a connection profile .ini file (empty uses built-in defaults)")
	autoDetect := flag.Bool("auto-detect", false, "probe the candidate CAN-ID list instead of using the configured pair")
	flag.Parse()

	profile := config.DefaultProfile()
	if *profilePath != "" {
		loaded, err := config.Load(*profilePath)
		if err != nil {
			log.WithError(err).Fatal("failed to load profile")
		}
		profile = loaded
	}
	profile.AutoDetect = profile.AutoDetect || *autoDetect

	facade := session.NewFacade(profile.ToSessionConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := facade.Connect(ctx, profile.AutoDetect); err != nil {
		log.WithError(err).Fatal("connect failed")
	}
	defer facade.Disconnect()

	vin, err := facade.ReadDataByIdentifier(ctx, session.DIDVIN)
	if err != nil {
		log.WithError(err).Error("failed to read VIN")
	} else {
		fmt.Printf("VIN: %s\n", vin)
	}

	serial, err := facade.ReadSerialNumber(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to read ECU serial number")
	} else {
		fmt.Printf("ECU serial: % X\n", serial)
	}

	calID, err := facade.ReadCalibrationID(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to read calibration ID")
	} else {
		fmt.Printf("Calibration ID: % X\n", calID)
	}

	counts, last := facade.ErrorHistory(10)
	if len(last) > 0 {
		log.Infof("error history: %d total across %d kinds", sumCounts(counts), len(counts))
		for _, e := range last {
			log.Infof("  [%s/%s] %s", e.Kind, e.Severity, e.Message)
		}
	}
}

func sumCounts[K comparable](counts map[K]int) int {
	total := 0
	for _, v := range counts {
		total += v
	}
	return total
}
