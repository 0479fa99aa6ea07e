// Command aodvsim is a thin demo driver for the mesh simulator: it builds
// a small default network, runs one season, and prints the arrivals. It is
// not the deliverable — real experiments are expected to drive the
// harness package directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/aodvmesh/simnet/harness"
	"github.com/aodvmesh/simnet/transport/mqtt"
	"github.com/aodvmesh/simnet/transport/serial"
)

func main() {
	n := flag.Int("n", 6, "number of nodes")
	host := flag.String("host", "127.0.0.1", "bind host")
	basePort := flag.Int("base-port", 9000, "first node port")
	dest := flag.Int("dest", 0, "index of the season destination node")
	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker URL for stats/season telemetry (disabled if empty)")
	serialPort := flag.String("serial-port", "", "serial device to bridge onto the dest node (disabled if empty)")
	serialPeer := flag.String("serial-peer", "", "node id of the peer at the other end of -serial-port")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	var telemetry harness.Telemetry
	if *mqttBroker != "" {
		pub := mqtt.New(mqtt.Config{Broker: *mqttBroker, Logger: logger})
		if err := pub.Start(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "aodvsim: mqtt:", err)
			os.Exit(1)
		}
		defer pub.Stop()
		telemetry = pub
	}

	net, err := harness.New(harness.Config{
		N:         *n,
		Host:      *host,
		BasePort:  *basePort,
		Telemetry: telemetry,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "aodvsim:", err)
		os.Exit(1)
	}
	defer net.Shutdown()

	destID := fmt.Sprintf("%s:%d", *host, *basePort+*dest)

	if *serialPort != "" {
		err := net.AttachSerialBridge(*dest, serial.Config{
			Port:   *serialPort,
			SelfID: destID,
			PeerID: *serialPeer,
			Logger: logger,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "aodvsim: serial bridge:", err)
			os.Exit(1)
		}
	}

	arrived := net.StartSeason(ctx, destID)

	fmt.Printf("season dest=%s arrivals=%d/%d\n", destID, len(arrived), *n-1)
	for _, id := range arrived {
		fmt.Println(" ", id)
	}
}
