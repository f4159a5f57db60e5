//go:build pcap
// +build pcap

// Package main replays captured observation traffic from a PCAP file to a
// running daemon's UDP ingest port, preserving (optionally scaled) original
// packet timing. Useful for reproducing field incidents on a bench.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

func main() {
	var (
		pcapFile = flag.String("pcap", "", "PCAP file to replay (required)")
		target   = flag.String("target", "127.0.0.1:9911", "ingest address to send frames to")
		port     = flag.Int("port", 9911, "UDP port the capture recorded frames on")
		speed    = flag.Float64("speed", 1.0, "replay speed multiplier (2.0 = twice real-time)")
	)
	flag.Parse()

	if *pcapFile == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *speed <= 0 {
		*speed = 1.0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := replay(ctx, *pcapFile, *port, *target, *speed); err != nil && err != context.Canceled {
		log.Fatalf("replay failed: %v", err)
	}
}

func replay(ctx context.Context, pcapFile string, udpPort int, target string, speed float64) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter %q: %w", filterStr, err)
	}
	log.Printf("replay: BPF filter set: %s (speed: %.1fx)", filterStr, speed)

	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return fmt.Errorf("resolve target %q: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("dial target %q: %w", target, err)
	}
	defer conn.Close()

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetCount := 0
	sentBytes := 0
	startTime := time.Now()

	var lastPacketTime time.Time

	for {
		select {
		case <-ctx.Done():
			log.Printf("replay stopping (sent %d packets)", packetCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				elapsed := time.Since(startTime)
				log.Printf("replay complete: %d packets, %d bytes in %v", packetCount, sentBytes, elapsed)
				return nil
			}

			captureTime := packet.Metadata().Timestamp
			if !lastPacketTime.IsZero() {
				delay := captureTime.Sub(lastPacketTime)
				scaledDelay := time.Duration(float64(delay) / speed)
				if scaledDelay > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(scaledDelay):
					}
				}
			}
			lastPacketTime = captureTime

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}

			if _, err := conn.Write(udp.Payload); err != nil {
				log.Printf("replay: send error on packet %d: %v", packetCount, err)
				continue
			}
			packetCount++
			sentBytes += len(udp.Payload)

			if packetCount%10000 == 0 {
				elapsed := time.Since(startTime)
				log.Printf("replay progress: %d packets in %v (%.0f pkt/s)",
					packetCount, elapsed, float64(packetCount)/elapsed.Seconds())
			}
		}
	}
}
