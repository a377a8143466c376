/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Command softphone-agent runs one headset-arbitrating client instance with
// a console headset driver. Type button presses on stdin, e.g. "answer <conversation>".
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	softphone "github.com/tejzpr/softphone-go-sdk"
	"github.com/tejzpr/softphone-go-sdk/config"
	"github.com/tejzpr/softphone-go-sdk/headset"
	"github.com/tejzpr/softphone-go-sdk/messagebus"
)

func main() {
	configPath := flag.String("config", "", "optional YAML settings file")
	vendors := flag.String("vendors", "jabra,plantronics,poly,yealink,epos", "comma-separated device labels with vendor support")
	relayAddr := flag.String("relay", "", "also serve a websocket bus relay on this address, e.g. :8089")
	flag.Parse()

	logger := log.New(os.Stderr, "softphone-agent: ", log.LstdFlags)

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	var relayServer *http.Server
	if *relayAddr != "" {
		relayServer = &http.Server{Addr: *relayAddr, Handler: messagebus.NewRelay(logger), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := relayServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("relay stopped: %v", err)
			}
		}()
		fmt.Printf("Serving bus relay on %s\n", *relayAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	driver := newConsoleDriver(strings.Split(*vendors, ","))
	client, err := softphone.NewClientFromSettings(ctx, settings, consoleSignaler{}, driver, logger)
	if err != nil {
		fmt.Printf("Error creating client: %v\n", err)
		os.Exit(1)
	}

	client.Headset().OnEvent(func(ev headset.Event) {
		switch e := ev.(type) {
		case headset.StateChanged:
			fmt.Printf("Headset controls: %s -> %s\n", e.From, e.To)
		case headset.ImplementationChanged:
			fmt.Printf("Headset device: %q (no vendor: %v)\n", e.DeviceLabel, e.NoVendor)
		}
	})

	if err := client.Start(ctx); err != nil {
		fmt.Printf("Error starting client: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Started for user %s on the %s bus\n", client.UserID(), settings.Bus.Kind)

	if settings.Headset.AudioDevice != "" {
		if err := client.SelectAudioInput(ctx, settings.Headset.AudioDevice); err != nil {
			logger.Printf("selecting %q: %v", settings.Headset.AudioDevice, err)
		}
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if label, ok := strings.CutPrefix(line, "device "); ok {
				if err := client.SelectAudioInput(ctx, strings.TrimSpace(label)); err != nil {
					fmt.Printf("Error: %v\n", err)
				}
				continue
			}
			if err := driver.press(line); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		}
	}()

	fmt.Println("Press Ctrl+C to exit.")
	<-ctx.Done()

	fmt.Println("Stopping...")
	if err := client.Stop(); err != nil {
		logger.Printf("closing bus: %v", err)
	}
	if relayServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = relayServer.Shutdown(shutdownCtx)
	}
	fmt.Println("Exiting.")
}
