package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/carloop/obdcan/cmd/dtctool/cmd"
	log "github.com/sirupsen/logrus"

	// Init adapters
	_ "github.com/carloop/obdcan/adapter"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt)
	go func() {
		s := <-quitChan
		log.Infof("got %v, exiting", s)
		cancel()
		// Failsafe if there is deadlocks
		<-time.After(15 * time.Second)
		log.Fatal("took too long to shutdown, forcefully exiting")
	}()
	cmd.Execute(ctx)
}
