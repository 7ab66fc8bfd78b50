package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/corvid-social/corvid/activitypub"
	"github.com/corvid-social/corvid/db"
	"github.com/corvid-social/corvid/events"
	"github.com/corvid-social/corvid/util"
	"github.com/corvid-social/corvid/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.Open(util.ResolveFilePath("corvid.db"))
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	bus := events.NewBus()
	delivery := activitypub.NewDelivery(database, conf)
	kernel := activitypub.NewKernel(database, conf, bus, delivery)
	server := web.NewServer(database, conf, kernel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go delivery.StartWorker(ctx)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Shutting down")
	cancel()
}
