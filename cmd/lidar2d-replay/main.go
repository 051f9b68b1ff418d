//go:build pcap
// +build pcap

// Command lidar2d-replay is a test/dev aid, not part of the runtime
// core: it reads a libpcap capture of previously recorded scan UDP
// datagrams — each payload already the MessagePack-encoded sample list
// the pipeline's "scans" topic expects, captured off the wire rather
// than a raw physical-sensor frame, since decoding a proprietary sensor
// protocol is driver-level acquisition and explicitly out of scope —
// validates each payload with the same decoder the pipeline uses, and
// republishes the surviving ones onto the message bus at (optionally
// accelerated) real-time pacing, reusing the scan topic convention the
// pipeline itself subscribes to. It is gated behind the "pcap" build
// tag since it links against libpcap, following the same convention as
// the teacher's own PCAP tooling.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/lidar2d-fusion/internal/bus"
	"github.com/banshee-data/lidar2d-fusion/internal/bus/mqttbus"
	"github.com/banshee-data/lidar2d-fusion/internal/codec"
)

var (
	pcapFile        = flag.String("pcap", "", "path to the .pcap capture to replay (required)")
	udpPort         = flag.Int("udp-port", 2368, "UDP port the capture's scan datagrams were sent to")
	deviceSerial    = flag.String("serial", "replay-0", "device serial to publish the replayed scans under")
	tetherHost      = flag.String("tether.host", "tcp://localhost:1883", "message bus broker address")
	topicPrefix     = flag.String("topicPrefix", "lidar2d", "topic prefix matching the running pipeline")
	speedMultiplier = flag.Float64("speed", 1.0, "replay speed multiplier (1.0 = real-time, 2.0 = 2x)")
	loop            = flag.Bool("loop", false, "restart from the beginning of the capture when it ends")
)

func main() {
	flag.Parse()
	if *pcapFile == "" {
		log.Fatal("lidar2d-replay: -pcap is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := mqttbus.New(mqttbus.DefaultConfig(*tetherHost))
	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx) }()

	topic := fmt.Sprintf("%s/%s/scans", *topicPrefix, *deviceSerial)

	for {
		if err := replayOnce(ctx, client, topic); err != nil {
			log.Fatalf("lidar2d-replay: %v", err)
		}
		if !*loop || ctx.Err() != nil {
			break
		}
	}

	stop()
	<-errCh
}

// replayOnce streams one full pass of the capture, validating each UDP
// payload decodes as a well-formed scan sample list before publishing it
// as-is to topic, pacing delivery to the capture's own inter-packet
// timing scaled by speedMultiplier. Payloads that fail to decode are
// logged and dropped, matching the malformed-payload handling the
// pipeline itself applies to inbound scans.
func replayOnce(ctx context.Context, client *mqttbus.Client, topic string) error {
	handle, err := pcap.OpenOffline(*pcapFile)
	if err != nil {
		return fmt.Errorf("open %s: %w", *pcapFile, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", *udpPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("set BPF filter %q: %w", filter, err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	var lastCaptureTime time.Time
	count := 0

	for packet := range source.Packets() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}

		captureTime := packet.Metadata().Timestamp
		if !lastCaptureTime.IsZero() {
			delay := captureTime.Sub(lastCaptureTime)
			scaled := time.Duration(float64(delay) / *speedMultiplier)
			if scaled > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		lastCaptureTime = captureTime

		payload := make([]byte, len(udp.Payload))
		copy(payload, udp.Payload)
		if _, err := codec.DecodeScanSamples(payload); err != nil {
			log.Printf("lidar2d-replay: dropping malformed captured payload: %v", err)
			continue
		}
		if err := client.Publish(ctx, bus.Message{Topic: topic, Payload: payload, QoS: bus.QoSAtMostOnce}); err != nil {
			log.Printf("lidar2d-replay: publish failed: %v", err)
		}
		count++
		if count%1000 == 0 {
			log.Printf("lidar2d-replay: replayed %d packets", count)
		}
	}

	log.Printf("lidar2d-replay: replay complete, %d packets", count)
	return nil
}
