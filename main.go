// Command quadarena runs the authoritative game server and, unless told
// otherwise, joins it with an in-process client so a single invocation is a
// playable world.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quadarena/internal/client"
	"quadarena/internal/diag"
	"quadarena/internal/server"
	"quadarena/internal/telemetry"
	"quadarena/internal/transport"
)

func main() {
	var (
		port       = flag.Int("port", 8080, "UDP port to listen on")
		diagPort   = flag.Int("diag-port", 0, "diagnostics HTTP port (0 reuses the game port number on TCP)")
		serverOnly = flag.Bool("server-only", false, "run headless without the local client")
		trace      = flag.Bool("trace", false, "log every packet sent and received")
		configPath = flag.String("config", "", "path to a YAML configuration file")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	var fc fileConfig
	if *configPath != "" {
		loaded, err := loadConfigFile(*configPath)
		if err != nil {
			logger.Fatalf("config: %v", err)
		}
		fc = loaded
	}
	// Flags the user set on the command line win over the file.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["port"] && fc.Port > 0 {
		*port = fc.Port
	}
	if !set["diag-port"] && fc.DiagPort > 0 {
		*diagPort = fc.DiagPort
	}
	if !set["server-only"] && fc.ServerOnly {
		*serverOnly = true
	}
	if !set["trace"] && fc.Trace {
		*trace = true
	}
	if *diagPort == 0 {
		*diagPort = *port
	}

	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", *port))
	if err != nil {
		logger.Fatalf("failed to bind UDP port %d: %v", *port, err)
	}

	counters := &telemetry.Counters{}
	tracer := transport.NewTracer(logger)
	tracer.SetEnabled(*trace)

	hub := server.NewHub(conn, fc.serverConfig(), logger, counters, tracer)
	stop := make(chan struct{})
	go hub.Run(stop)
	logger.Printf("Listening on UDP port %d", *port)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *diagPort),
		Handler: diag.NewHandler(hub, counters, tracer, logger).Mux(),
	}
	go func() {
		logger.Printf("diagnostics on http://localhost:%d/diagnostics", *diagPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("diagnostics server: %v", err)
		}
	}()

	var local *client.Client
	if !*serverOnly {
		local, err = dialLocal(*port, logger, tracer)
		if err != nil {
			logger.Fatalf("local client: %v", err)
		}
		go watchEvents(local, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Printf("shutting down")

	if local != nil {
		local.Close()
	}
	hub.Shutdown()
	httpSrv.Close()
	// Give the outbound pump a moment to flush the disconnects.
	time.Sleep(100 * time.Millisecond)
	close(stop)
}

// dialLocal joins the in-process server over the loopback interface.
func dialLocal(port int, logger *log.Logger, tracer *transport.Tracer) (*client.Client, error) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	serverAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client.Dial(conn, serverAddr, client.DefaultConfig(), logger, nil, tracer)
}

// watchEvents logs the local client's join/leave notices until it
// disconnects.
func watchEvents(c *client.Client, logger *log.Logger) {
	for ev := range c.Events() {
		switch ev.Type {
		case client.EventPlayerJoined:
			logger.Printf("player %d joined", ev.PlayerID)
		case client.EventPlayerLeft:
			logger.Printf("player %d left", ev.PlayerID)
		case client.EventDisconnected:
			logger.Printf("local client disconnected: %s", ev.Reason)
			return
		}
	}
}
