// devicesim plays a tracker against a running gateway: it sends a sample
// session for one protocol and prints every acknowledgement it gets back.
package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"trackgate/internal/protocol/registry"
)

type options struct {
	protocol string
	addr     string
	imei     string
	udp      bool
	split    bool
	delay    time.Duration
	wait     time.Duration
}

func main() {
	opts := options{}

	rootCmd := &cobra.Command{
		Use:          "devicesim",
		Short:        "Send sample tracker frames to a trackgate listener",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := registry.Lookup(opts.protocol); err != nil {
				return fmt.Errorf("%w (known: %v)", err, registry.Names())
			}
			frames, err := sampleFrames(opts.protocol, opts.imei)
			if err != nil {
				return err
			}
			if opts.udp {
				return sendUDP(opts, frames)
			}
			return sendTCP(opts, frames)
		},
	}

	rootCmd.Flags().StringVarP(&opts.protocol, "protocol", "p", "gt06", "Protocol to simulate")
	rootCmd.Flags().StringVarP(&opts.addr, "addr", "a", "localhost:5023", "Gateway listener address")
	rootCmd.Flags().StringVar(&opts.imei, "imei", "123456789012345", "Device IMEI")
	rootCmd.Flags().BoolVar(&opts.udp, "udp", false, "Send one datagram per frame instead of a TCP stream")
	rootCmd.Flags().BoolVar(&opts.split, "split", false, "Split every TCP frame across two writes")
	rootCmd.Flags().DurationVar(&opts.delay, "delay", 500*time.Millisecond, "Pause between writes")
	rootCmd.Flags().DurationVar(&opts.wait, "wait", 2*time.Second, "How long to wait for an acknowledgement")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func sendTCP(opts options, frames [][]byte) error {
	conn, err := net.DialTimeout("tcp", opts.addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.addr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s as %s device %s\n", opts.addr, opts.protocol, opts.imei)

	for _, frame := range frames {
		fmt.Printf("-> %s\n", formatFrame(frame))
		parts := [][]byte{frame}
		if opts.split && len(frame) > 1 {
			parts = [][]byte{frame[:len(frame)/2], frame[len(frame)/2:]}
		}
		for _, part := range parts {
			if _, err := conn.Write(part); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			time.Sleep(opts.delay)
		}
		readAck(conn, opts.wait)
	}
	return nil
}

func sendUDP(opts options, frames [][]byte) error {
	conn, err := net.Dial("udp", opts.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.addr, err)
	}
	defer conn.Close()

	for _, frame := range frames {
		fmt.Printf("-> %s\n", formatFrame(frame))
		if _, err := conn.Write(frame); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		readAck(conn, opts.wait)
		time.Sleep(opts.delay)
	}
	return nil
}

func readAck(conn net.Conn, wait time.Duration) {
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		fmt.Println("   (no acknowledgement)")
	case err != nil:
		fmt.Printf("   read failed: %v\n", err)
	default:
		fmt.Printf("<- %s\n", formatFrame(buf[:n]))
	}
}
