package trace

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"

	"fanet-sim/internal/message"
)

// capturePort carries every simulated frame; one synthetic UDP port keeps
// Wireshark filtering trivial.
const capturePort = 4242

// PcapWriter records every frame admitted onto the simulated medium as a
// synthetic Ethernet/IPv4/UDP packet with a JSON payload, so a run can be
// inspected offline in Wireshark. Virtual timestamps are anchored at the
// wall-clock instant the writer was created.
type PcapWriter struct {
	f      *os.File
	w      *pcapgo.Writer
	anchor time.Time
}

// NewPcapWriter creates the capture file and writes the pcap header.
func NewPcapWriter(path string) (*PcapWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file %s: %w", path, err)
	}

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	return &PcapWriter{f: f, w: w, anchor: time.Now()}, nil
}

// Record writes one frame. Failures are logged and swallowed: the capture is
// an observer, it must never affect the run.
func (p *PcapWriter) Record(env message.Envelope, at time.Duration) {
	payload, err := marshalFrame(env)
	if err != nil {
		log.WithError(err).Warn("Failed to encode trace frame")
		return
	}

	eth := &layers.Ethernet{
		SrcMAC:       nodeMAC(env.Sender),
		DstMAC:       nextHopMAC(env.NextHop),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    nodeIP(env.Sender),
		DstIP:    nextHopIP(env.NextHop),
	}
	udp := &layers.UDP{
		SrcPort: capturePort,
		DstPort: capturePort,
	}
	udp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		log.WithError(err).Warn("Failed to serialize trace frame")
		return
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     p.anchor.Add(at),
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	if err := p.w.WritePacket(ci, buf.Bytes()); err != nil {
		log.WithError(err).Warn("Failed to write trace frame")
	}
}

// Close flushes and closes the capture file.
func (p *PcapWriter) Close() error {
	return p.f.Close()
}

type frameRecord struct {
	Kind     string          `json:"kind"`
	Sender   int             `json:"sender"`
	NextHop  int             `json:"next_hop"`
	SendTime float64         `json:"send_time_s"`
	Payload  message.Payload `json:"payload"`
}

func marshalFrame(env message.Envelope) ([]byte, error) {
	return json.Marshal(frameRecord{
		Kind:     env.Kind.String(),
		Sender:   env.Sender,
		NextHop:  env.NextHop,
		SendTime: env.SendTime.Seconds(),
		Payload:  env.Payload,
	})
}

// nodeMAC derives a locally administered MAC from a node id.
func nodeMAC(id int) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0x00, 0x00, 0x00, byte(id >> 8), byte(id)}
}

func nextHopMAC(nextHop int) net.HardwareAddr {
	if nextHop == message.Flood {
		return net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}
	return nodeMAC(nextHop)
}

// nodeIP maps a node id into 10.42.0.0/16.
func nodeIP(id int) net.IP {
	return net.IPv4(10, 42, byte(id>>8), byte(id)).To4()
}

func nextHopIP(nextHop int) net.IP {
	if nextHop == message.Flood {
		return net.IPv4(10, 42, 255, 255).To4()
	}
	return nodeIP(nextHop)
}
