package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"promptrelay/internal/control"
	"promptrelay/internal/relay"
)

func main() {
	addrFlag := flag.String("addr", ":8082", "listen address, e.g. :8082 or 127.0.0.1:8082")
	settingsFlag := flag.String("settings", "", "path to the settings JSON file (default $PROMPTRELAY_SETTINGS)")
	allowFlag := flag.String("allow", "", "comma-separated upstream host allow-list (default $PROMPTRELAY_ALLOW)")
	browserFlag := flag.Bool("browser", false, "launch the playback controller browser")
	headlessFlag := flag.Bool("headless", false, "run the controller browser headless")
	watchFlag := flag.String("watch", "", "URL to open in the controller tab at startup")
	flag.Parse()

	addr := *addrFlag
	if env := os.Getenv("PORT"); env != "" {
		addr = ":" + env
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	cfg := relay.DefaultConfig()
	if *settingsFlag != "" {
		cfg.SettingsPath = *settingsFlag
	}
	if *allowFlag != "" {
		cfg.AllowedHosts = nil
		for _, h := range strings.Split(*allowFlag, ",") {
			if h = strings.TrimSpace(h); h != "" {
				cfg.AllowedHosts = append(cfg.AllowedHosts, h)
			}
		}
	}

	if *browserFlag {
		ctrl, err := control.New(log.Default(), *headlessFlag)
		if err != nil {
			log.Fatalf("controller start error: %v", err)
		}
		defer ctrl.Close()
		cfg.Controller = ctrl
		if *watchFlag != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := ctrl.Open(ctx, *watchFlag); err != nil {
				log.Printf("open %s: %v", *watchFlag, err)
			}
			cancel()
		}
	}

	handler := relay.New(cfg)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		// Conservative timeouts to avoid slowloris and leaked connections blocking the server
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(os.Stdout, "HTTPERR ", log.LstdFlags|log.Lmicroseconds),
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Listen error on %s: %v", addr, err)
	}

	log.Println("Listening on", addr)
	log.Fatal(srv.Serve(ln))
}
