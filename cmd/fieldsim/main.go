// fieldsim simulates the field-layer microcontroller that publishes the
// machine safety inputs. It serves the sensor record at a fixed rate over
// a websocket, a unix socket and optionally a pseudo-terminal, and reads
// operator commands from stdin to flip the simulated inputs.
//
// Usage:
//
//	fieldsim [-listen :7130] [-socket /tmp/cnc_field] [-pty] [-rate 20]
//
// Commands on stdin:
//
//	estop | release            latch or release the emergency stop
//	door open|close            open or close the guard door
//	overload on|off            spindle overload input
//	temp bad|ok                temperature supervision input
//	clear                      all inputs back to safe
//	status                     print the current inputs
//
// Point cncd at it with [fieldlink] transport: websocket and
// url: ws://localhost:7130/field, or transport: serial and
// device: unix:/tmp/cnc_field.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modax-cnc/pkg/log"
	"modax-cnc/pkg/serial"
)

func main() {
	listen := flag.String("listen", ":7130", "websocket listen address (empty disables)")
	socketPath := flag.String("socket", "", "unix socket path for the line stream (empty disables)")
	usePTY := flag.Bool("pty", false, "also publish on a pseudo-terminal")
	rate := flag.Float64("rate", 20, "records per second")
	device := flag.String("device", "fieldsim", "device_id reported in each record")
	flag.Parse()

	if *rate <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -rate must be positive")
		os.Exit(1)
	}
	logger := log.GetLogger("fieldsim")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub()
	state := &sensors{}

	if *listen != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/field", h.serveWS)
		srv := &http.Server{Addr: *listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("websocket server failed")
				stop()
			}
		}()
		defer srv.Close()
		fmt.Printf("Websocket: ws://localhost%s/field\n", *listen)
	}

	if *socketPath != "" {
		os.Remove(*socketPath)
		ln, err := net.Listen("unix", *socketPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating socket: %v\n", err)
			os.Exit(1)
		}
		defer os.Remove(*socketPath)
		defer ln.Close()
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				go func() {
					defer conn.Close()
					h.serveStream(ctx, "unix "+*socketPath, conn)
				}()
			}
		}()
		fmt.Printf("Socket:    unix:%s\n", *socketPath)
	}

	if *usePTY {
		port, name, err := serial.OpenPTY()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening pty: %v\n", err)
			os.Exit(1)
		}
		defer port.Close()
		go h.serveStream(ctx, "pty "+name, port)
		fmt.Printf("PTY:       %s\n", name)
	}

	period := time.Duration(float64(time.Second) / *rate)
	go publishLoop(ctx, h, state, *device, period)
	go readCommands(ctx, h, state, *device)

	fmt.Printf("Publishing at %.1f Hz, type commands (estop, release, door open, ...)\n", *rate)
	<-ctx.Done()
	fmt.Println("\nShutting down...")
}

// readCommands applies stdin commands and publishes the change at once.
func readCommands(ctx context.Context, h *hub, s *sensors, device string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "status" {
			fmt.Printf("%s (%d subscribers)\n", s, h.count())
			continue
		}
		if err := s.apply(line); err != nil {
			fmt.Println("error:", err)
			continue
		}
		fmt.Println(s)
		if rec, err := s.record(device); err == nil {
			h.publish(rec)
		}
	}
}
