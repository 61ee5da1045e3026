// command pinctl sends commands to a pincab controller over its
// serial sideband and decodes the replies: bank on/off and brightness
// updates, night mode, calibration, configuration queries and saves.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tarm/serial"

	"pincab.dev/proto"
)

var (
	dev  = flag.String("dev", "/dev/ttyUSB0", "serial device of the controller sideband")
	baud = flag.Int("baud", 115200, "serial baud rate")
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: pinctl [flags] <command> [args]

commands:
  sba <mask32-hex> <speed>      on/off bits for ports 1-32 + flash speed
  pba <v1..v8>                  eight profile bytes at the rolling cursor
  pbx <group> <v1..v8>          eight 6-bit values for ports 8g+1..8g+8
  bulk <first> <v1..v7>         direct 0-255 levels for seven ports
  night <0|1>                   night mode off/on
  alloff                        all outputs off, LedWiz defaults
  calibrate                     begin plunger calibration (15s)
  save [reboot-delay-s]         save configuration to flash
  config                        query configuration
  id                            query device ID
  var <id> [index]              query one config variable
  set <id> <b1..b6>             set one config variable
  buttons                       dump button states
  tv <off|on|pulse>             TV relay control
`)
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}
	if err := run(flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "pinctl: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string) error {
	port, err := serial.OpenPort(&serial.Config{
		Name:        *dev,
		Baud:        *baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return err
	}
	defer port.Close()

	send := func(msg []byte) error {
		full := make([]byte, proto.MsgLen)
		copy(full, msg)
		_, err := port.Write(proto.FrameEncode(full))
		return err
	}

	wantReply := false
	switch cmd {
	case "sba":
		if len(args) != 2 {
			usage()
		}
		mask, err := strconv.ParseUint(args[0], 16, 32)
		if err != nil {
			return err
		}
		speed := byteArg(args[1])
		return send([]byte{proto.MsgSBA, byte(mask), byte(mask >> 8), byte(mask >> 16), byte(mask >> 24), speed})
	case "pba":
		if len(args) != 8 {
			usage()
		}
		return send(byteArgs(args))
	case "pbx":
		if len(args) != 9 {
			usage()
		}
		msg := []byte{proto.MsgPBX, byteArg(args[0])}
		var bits uint64
		for i := 7; i >= 0; i-- {
			bits = bits<<6 | uint64(byteArg(args[1+i])&0x3f)
		}
		for i := 0; i < 6; i++ {
			msg = append(msg, byte(bits>>(8*i)))
		}
		return send(msg)
	case "bulk":
		if len(args) != 8 {
			usage()
		}
		first := byteArg(args[0])
		if first < 1 || (first-1)%7 != 0 {
			return fmt.Errorf("first port must be 1+7k")
		}
		msg := append([]byte{proto.MsgBulkMin + (first-1)/7}, byteArgs(args[1:])...)
		return send(msg)
	case "night":
		if len(args) != 1 {
			usage()
		}
		return send([]byte{proto.MsgControl, proto.CtlNightMode, byteArg(args[0])})
	case "alloff":
		return send([]byte{proto.MsgControl, proto.CtlAllOff})
	case "calibrate":
		return send([]byte{proto.MsgControl, proto.CtlCalibrate})
	case "save":
		delay := byte(0)
		if len(args) == 1 {
			delay = byteArg(args[0])
		}
		return send([]byte{proto.MsgControl, proto.CtlSaveConfig, delay})
	case "config":
		wantReply = true
		if err := send([]byte{proto.MsgControl, proto.CtlConfigQuery}); err != nil {
			return err
		}
	case "id":
		wantReply = true
		if err := send([]byte{proto.MsgControl, proto.CtlDeviceID}); err != nil {
			return err
		}
	case "var":
		if len(args) < 1 {
			usage()
		}
		idx := byte(0)
		if len(args) > 1 {
			idx = byteArg(args[1])
		}
		wantReply = true
		if err := send([]byte{proto.MsgControl, proto.CtlVarQuery, byteArg(args[0]), idx}); err != nil {
			return err
		}
	case "set":
		if len(args) < 2 {
			usage()
		}
		msg := append([]byte{proto.MsgSetVar, byteArg(args[0])}, byteArgs(args[1:])...)
		return send(msg)
	case "buttons":
		wantReply = true
		if err := send([]byte{proto.MsgControl, proto.CtlButtonStatus}); err != nil {
			return err
		}
	case "tv":
		if len(args) != 1 {
			usage()
		}
		mode := map[string]byte{"off": proto.TVRelayOff, "on": proto.TVRelayOn, "pulse": proto.TVRelayPulse}
		m, ok := mode[args[0]]
		if !ok {
			usage()
		}
		return send([]byte{proto.MsgControl, proto.CtlTVRelay, m})
	default:
		usage()
	}

	if !wantReply {
		return nil
	}
	return readReply(port)
}

// readReply waits for the vendor reply among the joystick stream and
// prints it decoded.
func readReply(port *serial.Port) error {
	var dec proto.FrameDecoder
	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, _ := port.Read(buf)
		if n == 0 {
			continue
		}
		for _, f := range dec.Feed(buf[:n]) {
			if len(f) != proto.ReportLen || f[1]&0x80 == 0 {
				continue
			}
			printReport(f)
			return nil
		}
	}
	return fmt.Errorf("no reply")
}

func printReport(f []byte) {
	id := uint16(f[0]) | uint16(f[1])<<8
	switch {
	case id == proto.ReportConfig:
		fmt.Printf("outputs: %d\n", int(f[2])|int(f[3])<<8)
		fmt.Printf("plunger cal: zero=%d max=%d\n",
			int(f[6])|int(f[7])<<8, int(f[8])|int(f[9])<<8)
		fmt.Printf("configured: %v\n", f[10]&proto.ConfigFlagLoaded != 0)
	case id == proto.ReportDeviceID:
		fmt.Printf("device id: % x\n", f[2:12])
	case id == proto.ReportVar:
		fmt.Printf("var %d: % x\n", f[3], f[4:])
	case id == proto.ReportButtons:
		n := int(f[2])
		fmt.Printf("buttons (%d):", n)
		for i := 0; i < n && i/8+3 < len(f); i++ {
			if f[i/8+3]&(1<<(i%8)) != 0 {
				fmt.Printf(" %d", i+1)
			}
		}
		fmt.Println()
	default:
		fmt.Printf("report: % x\n", f)
	}
}

func byteArg(s string) byte {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pinctl: bad value %q\n", s)
		os.Exit(2)
	}
	return byte(v)
}

func byteArgs(args []string) []byte {
	out := make([]byte, len(args))
	for i, a := range args {
		out[i] = byteArg(a)
	}
	return out
}
