package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gorilla/mux"

	"github.com/atharvgk/agkcanvas/internal/export"
	boardnet "github.com/atharvgk/agkcanvas/internal/net"
	"github.com/atharvgk/agkcanvas/internal/rooms"
)

var cli struct {
	Port       int           `help:"TCP port to listen on." default:"3000" env:"PORT"`
	Host       string        `help:"Host interface to bind." default:""`
	Static     string        `help:"Directory of client assets to serve at /." placeholder:"DIR"`
	MDNS       bool          `name:"mdns" help:"Advertise the server on the local network."`
	Discover   bool          `help:"List whiteboard servers on the local network and exit."`
	PruneAfter time.Duration `help:"Drop the history of empty rooms after this idle period." default:"1h"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("agkcanvas"),
		kong.Description("Real-time collaborative whiteboard server."),
		kong.UsageOnError(),
	)

	if err := run(); err != nil {
		log.Fatalf("[main] %v", err)
	}
}

func run() error {
	if cli.Discover {
		return discover()
	}

	hub := boardnet.NewHub()
	registry := rooms.NewRegistry(hub)
	hub.SetHandler(registry)

	router := mux.NewRouter()
	router.HandleFunc("/ws", hub.ServeWS)
	router.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/rooms", handleRooms(registry)).Methods(http.MethodGet)
	router.HandleFunc("/rooms/{roomId}/export.pdf", handleExport(registry)).Methods(http.MethodGet)
	if cli.Static != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(cli.Static)))
	}

	addr := fmt.Sprintf("%s:%d", cli.Host, cli.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cli.MDNS {
		mdnsServer, err := boardnet.Advertise(cli.Port)
		if err != nil {
			log.Printf("[main] mDNS advertisement disabled: %v", err)
		} else {
			defer mdnsServer.Shutdown()
		}
	}

	go pruneLoop(ctx, registry)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if ip, err := boardnet.OutgoingIP(); err == nil {
		log.Printf("[main] board available at http://%s:%d", ip, cli.Port)
	}
	log.Printf("[main] listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("[main] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func discover() error {
	found := 0
	err := boardnet.Browse(func(addr string) {
		found++
		fmt.Printf("http://%s\n", addr)
	})
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	if found == 0 {
		fmt.Println("no whiteboard servers found")
	}
	return nil
}

// pruneLoop reclaims the history of long-empty rooms on a fixed cadence.
func pruneLoop(ctx context.Context, registry *rooms.Registry) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.PruneIdle(cli.PruneAfter)
		}
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func handleRooms(registry *rooms.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(registry.Rooms()); err != nil {
			log.Printf("[main] writing room list: %v", err)
		}
	}
}

func handleExport(registry *rooms.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := mux.Vars(r)["roomId"]
		ops, ok := registry.SnapshotRoom(roomID)
		if !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		if err := export.PDF(w, ops); err != nil {
			log.Printf("[main] exporting room %q: %v", roomID, err)
		}
	}
}
